package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ModelKind tags the webhook payload union. The set is closed: decoding an
// unknown kind fails, and the intake records the delivery as an error.
type ModelKind string

const (
	ModelLocation     ModelKind = "location"
	ModelProjectsUser ModelKind = "projects_user"
	ModelScaleTeam    ModelKind = "scale_team"
	ModelPool         ModelKind = "pool"
)

// WebhookPayload is implemented by exactly one struct per model kind.
type WebhookPayload interface {
	Kind() ModelKind
}

// LocationPayload is a workstation session. EndAt is nil while the session
// is still open; Idle marks sessions the platform closed for inactivity.
type LocationPayload struct {
	ID      int64      `json:"id"`
	UserID  int64      `json:"user_id"`
	BeginAt time.Time  `json:"begin_at"`
	EndAt   *time.Time `json:"end_at,omitempty"`
	Host    string     `json:"host"`
	Campus  string     `json:"campus,omitempty"`
	Idle    bool       `json:"idle"`
}

func (LocationPayload) Kind() ModelKind { return ModelLocation }

// ProjectInfo is the project embedded in a projects_user payload.
type ProjectInfo struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Exam       bool   `json:"exam"`
	Difficulty int64  `json:"difficulty"`
}

// ProjectsUserPayload is a user's registration on a project, reported again
// on every retry, so the same external object id can arrive with different
// final marks over time.
type ProjectsUserPayload struct {
	ID        int64       `json:"id"`
	UserID    int64       `json:"user_id"`
	Status    string      `json:"status"`
	Validated *bool       `json:"validated,omitempty"`
	FinalMark *int64      `json:"final_mark,omitempty"`
	Project   ProjectInfo `json:"project"`
	MarkedAt  *time.Time  `json:"marked_at,omitempty"`
}

func (ProjectsUserPayload) Kind() ModelKind { return ModelProjectsUser }

// Finished reports whether this registration is a validated, marked finish.
func (p *ProjectsUserPayload) Finished() bool {
	return p.Status == "finished" &&
		p.Validated != nil && *p.Validated &&
		p.FinalMark != nil && *p.FinalMark >= 0
}

// Evaluator is the corrector on a scale team. Kind "supervisor" denotes an
// external-company evaluation rather than a peer one.
type Evaluator struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Kind  string `json:"kind"`
}

// ScaleTeamPayload is one peer evaluation. FilledAt is nil until the
// corrector has submitted the evaluation form.
type ScaleTeamPayload struct {
	ID        int64      `json:"id"`
	Corrector Evaluator  `json:"corrector"`
	BeginAt   time.Time  `json:"begin_at"`
	FilledAt  *time.Time `json:"filled_at,omitempty"`
	ProjectID int64      `json:"project_id"`
}

func (ScaleTeamPayload) Kind() ModelKind { return ModelScaleTeam }

// Supervised reports whether the evaluation was run by an external company.
func (p *ScaleTeamPayload) Supervised() bool {
	return p.Corrector.Kind == "supervisor"
}

// PoolPayload is a point donation into the shared pool. The donated amount
// is the difference between the reported totals.
type PoolPayload struct {
	ID        int64 `json:"id"`
	UserID    int64 `json:"user_id"`
	OldPoints int64 `json:"old_points"`
	NewPoints int64 `json:"new_points"`
}

func (PoolPayload) Kind() ModelKind { return ModelPool }

// DecodePayload parses a raw webhook body into the variant for its model
// kind. The switch is exhaustive over the closed union.
func DecodePayload(kind ModelKind, body []byte) (WebhookPayload, error) {
	switch kind {
	case ModelLocation:
		var p LocationPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decoding location payload: %w", err)
		}
		return &p, nil
	case ModelProjectsUser:
		var p ProjectsUserPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decoding projects_user payload: %w", err)
		}
		return &p, nil
	case ModelScaleTeam:
		var p ScaleTeamPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decoding scale_team payload: %w", err)
		}
		return &p, nil
	case ModelPool:
		var p PoolPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decoding pool payload: %w", err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", kind)
	}
}
