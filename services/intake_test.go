package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"coalition-score-engine/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func locationBody(t *testing.T, p models.LocationPayload) []byte {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return body
}

func TestIngestRejectsIncompleteEnvelope(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.Intake.Ingest(ctx, Envelope{ModelKind: "location", EventKind: "close", Body: []byte("{}")})
	assert.ErrorIs(t, err, ErrBadEnvelope)

	_, err = env.Intake.Ingest(ctx, Envelope{DeliveryID: "d-1", EventKind: "close", Body: []byte("{}")})
	assert.ErrorIs(t, err, ErrBadEnvelope)

	_, err = env.Intake.Ingest(ctx, Envelope{DeliveryID: "d-1", ModelKind: "location", EventKind: "close"})
	assert.ErrorIs(t, err, ErrBadEnvelope)

	// nothing persisted for rejected envelopes
	var count int64
	require.NoError(t, env.DB.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIngestDuplicateDeliveryShortCircuits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedPointType(t, models.TypeLogtime, 10)
	env.seedCoalition(t, 1, "Vela")
	env.seedUser(t, 42, "alice", 1)

	end := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	body := locationBody(t, models.LocationPayload{
		ID: 900, UserID: 42,
		BeginAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		EndAt:   &end, Host: "e1r2p3",
	})
	envlp := Envelope{DeliveryID: "dup-1", ModelKind: "location", EventKind: "close", Body: body}

	status, err := env.Intake.Ingest(ctx, envlp)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOk, status)

	for i := 0; i < 3; i++ {
		status, err = env.Intake.Ingest(ctx, envlp)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAlreadyHandled, status)
	}

	var grants []models.ScoreGrant
	require.NoError(t, env.DB.Find(&grants).Error)
	require.Len(t, grants, 1)
	assert.Equal(t, int64(25), grants[0].Amount)
}

func TestIngestUnknownModelKind(t *testing.T) {
	env := newTestEnv(t)

	status, err := env.Intake.Ingest(context.Background(), Envelope{
		DeliveryID: "d-2", ModelKind: "mystery", EventKind: "create", Body: []byte("{}"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, status)

	var ev models.WebhookEvent
	require.NoError(t, env.DB.First(&ev, "delivery_id = ?", "d-2").Error)
	assert.Equal(t, models.StatusError, ev.Status)
	assert.NotNil(t, ev.HandledAt)
}

func TestIngestMissingPointTypeIsError(t *testing.T) {
	env := newTestEnv(t)
	env.seedCoalition(t, 1, "Vela")
	env.seedUser(t, 42, "alice", 1)

	end := time.Now().UTC()
	body := locationBody(t, models.LocationPayload{ID: 1, UserID: 42, BeginAt: end.Add(-time.Hour), EndAt: &end})
	status, err := env.Intake.Ingest(context.Background(), Envelope{
		DeliveryID: "d-3", ModelKind: "location", EventKind: "close", Body: body,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, status)
}

func TestIngestSkipsOpenSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedPointType(t, models.TypeLogtime, 10)
	env.seedCoalition(t, 1, "Vela")
	env.seedUser(t, 42, "alice", 1)

	body := locationBody(t, models.LocationPayload{ID: 2, UserID: 42, BeginAt: time.Now().UTC()})
	status, err := env.Intake.Ingest(context.Background(), Envelope{
		DeliveryID: "d-4", ModelKind: "location", EventKind: "create", Body: body,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, status)
}

func TestIngestSkipsDisqualifiedUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedPointType(t, models.TypeLogtime, 10)
	env.seedCoalition(t, 1, "Vela")

	staff := &models.User{ID: 7, Login: "staff1", IsStaff: true}
	require.NoError(t, env.DB.Create(staff).Error)

	end := time.Now().UTC()
	body := locationBody(t, models.LocationPayload{ID: 3, UserID: 7, BeginAt: end.Add(-2 * time.Hour), EndAt: &end})
	status, err := env.Intake.Ingest(ctx, Envelope{
		DeliveryID: "d-5", ModelKind: "location", EventKind: "close", Body: body,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, status)

	var count int64
	require.NoError(t, env.DB.Model(&models.ScoreGrant{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIngestIdleLogoutPenalty(t *testing.T) {
	env := newTestEnv(t)
	env.seedPointType(t, models.TypeLogtime, 10)
	env.seedPointType(t, models.TypeIdleLogout, -50)
	env.seedCoalition(t, 1, "Vela")
	env.seedUser(t, 42, "alice", 1)

	end := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)
	body := locationBody(t, models.LocationPayload{
		ID: 4, UserID: 42,
		BeginAt: end.Add(-time.Hour), EndAt: &end,
		Host: "e1r2p3", Idle: true,
	})
	status, err := env.Intake.Ingest(context.Background(), Envelope{
		DeliveryID: "d-6", ModelKind: "location", EventKind: "close", Body: body,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOk, status)

	var grants []models.ScoreGrant
	require.NoError(t, env.DB.Order("amount DESC").Find(&grants).Error)
	require.Len(t, grants, 2)
	assert.Equal(t, int64(10), grants[0].Amount)
	assert.Equal(t, int64(-50), grants[1].Amount)
}

func TestIngestEvaluationSkipsSupervisor(t *testing.T) {
	env := newTestEnv(t)
	env.seedPointType(t, models.TypeEvaluation, 20)
	env.seedCoalition(t, 1, "Vela")
	env.seedUser(t, 42, "alice", 1)

	filled := time.Now().UTC()
	body, err := json.Marshal(models.ScaleTeamPayload{
		ID: 10, FilledAt: &filled,
		Corrector: models.Evaluator{ID: 42, Login: "alice", Kind: "supervisor"},
	})
	require.NoError(t, err)

	status, err := env.Intake.Ingest(context.Background(), Envelope{
		DeliveryID: "d-7", ModelKind: "scale_team", EventKind: "update", Body: body,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, status)
}

// End-to-end scenario: a 2.5 hour logtime session at 10 points/hour
// yields a 25-point grant whose reason mentions the hours, and a later
// evaluation for the same user adds an independent 20-point grant.
func TestEndToEndLogtimeThenEvaluation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedPointType(t, models.TypeLogtime, 10)
	env.seedPointType(t, models.TypeEvaluation, 20)
	env.seedCoalition(t, 1, "Vela")
	env.seedUser(t, 42, "alice", 1)

	end := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	body := locationBody(t, models.LocationPayload{
		ID: 11, UserID: 42,
		BeginAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		EndAt:   &end, Host: "e1r2p3",
	})
	status, err := env.Intake.Ingest(ctx, Envelope{DeliveryID: "e2e-1", ModelKind: "location", EventKind: "close", Body: body})
	require.NoError(t, err)
	require.Equal(t, models.StatusOk, status)

	filled := time.Now().UTC()
	evalBody, err := json.Marshal(models.ScaleTeamPayload{
		ID: 12, FilledAt: &filled, ProjectID: 77,
		Corrector: models.Evaluator{ID: 42, Login: "alice", Kind: "user"},
	})
	require.NoError(t, err)
	status, err = env.Intake.Ingest(ctx, Envelope{DeliveryID: "e2e-2", ModelKind: "scale_team", EventKind: "update", Body: evalBody})
	require.NoError(t, err)
	require.Equal(t, models.StatusOk, status)

	var grants []models.ScoreGrant
	require.NoError(t, env.DB.Order("amount").Find(&grants).Error)
	require.Len(t, grants, 2)
	assert.Equal(t, int64(20), grants[0].Amount)
	assert.Equal(t, int64(25), grants[1].Amount)
	assert.Contains(t, grants[1].Reason, "2.5 hours")
}

func TestReplayConvergesWithoutDoubleAward(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedPointType(t, models.TypeLogtime, 10)
	env.seedCoalition(t, 1, "Vela")
	env.seedUser(t, 42, "alice", 1)

	end := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	body := locationBody(t, models.LocationPayload{
		ID: 20, UserID: 42, BeginAt: end.Add(-2 * time.Hour), EndAt: &end, Host: "e1r2p3",
	})
	_, err := env.Intake.Ingest(ctx, Envelope{DeliveryID: "rp-1", ModelKind: "location", EventKind: "close", Body: body})
	require.NoError(t, err)

	status, err := env.Intake.Replay(ctx, "rp-1")
	require.NoError(t, err)
	// identical recompute produces a zero delta, recorded as a skip
	assert.Equal(t, models.StatusSkipped, status)

	var sum int64
	require.NoError(t, env.DB.Model(&models.ScoreGrant{}).Select("COALESCE(SUM(amount), 0)").Scan(&sum).Error)
	assert.Equal(t, int64(20), sum)
}

func TestReplayUnknownDelivery(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Intake.Replay(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestIngestShortCircuitsInFlightDuplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedPointType(t, models.TypeLogtime, 10)
	env.seedCoalition(t, 1, "Vela")
	env.seedUser(t, 42, "alice", 1)

	end := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	body := locationBody(t, models.LocationPayload{
		ID: 901, UserID: 42,
		BeginAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		EndAt:   &end, Host: "e1r2p3",
	})

	// another process holds the row and has not finished dispatching it yet
	inflight := &models.WebhookEvent{
		ID:         "11111111-1111-1111-1111-111111111111",
		DeliveryID: "race-1",
		ModelKind:  "location",
		EventKind:  "close",
		RawBody:    body,
		ReceivedAt: time.Now().UTC(),
		Status:     models.StatusUnhandled,
	}
	require.NoError(t, env.DB.Create(inflight).Error)

	status, err := env.Intake.Ingest(ctx, Envelope{
		DeliveryID: "race-1", ModelKind: "location", EventKind: "close", Body: body,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAlreadyHandled, status)

	// the loser of the insert race must not award anything
	var grants int64
	require.NoError(t, env.DB.Model(&models.ScoreGrant{}).Count(&grants).Error)
	assert.Zero(t, grants)

	var stored models.WebhookEvent
	require.NoError(t, env.DB.Where("delivery_id = ?", "race-1").First(&stored).Error)
	assert.Equal(t, models.StatusUnhandled, stored.Status)
}
