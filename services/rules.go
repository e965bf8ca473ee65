// services/rules.go
package services

import (
	"fmt"
	"math"
	"time"

	"coalition-score-engine/config"
	"coalition-score-engine/models"
)

// Pure scoring formulas. Everything here is deterministic over its inputs so
// replaying an event always recomputes the same point value.

// LogtimePoints converts a closed workstation session into points:
// floor(duration_hours * perHour). Returns the duration in hours alongside
// the points so reasons can mention it.
func LogtimePoints(begin, end time.Time, perHour int64) (int64, float64) {
	hours := end.Sub(begin).Hours()
	if hours <= 0 {
		return 0, 0
	}
	return int64(math.Floor(hours * float64(perHour))), hours
}

// LogtimeReason renders the human-readable grant reason for a session.
func LogtimeReason(hours float64, host string) string {
	return fmt.Sprintf("Logtime: %.1f hours at %s", hours, host)
}

// IdleLogoutReason renders the reason for an idle-logout penalty.
func IdleLogoutReason(host string) string {
	return fmt.Sprintf("Idle logout at %s", host)
}

// ProjectPoints scores a validated regular project:
//
//	points = (mark * factor) + (difficulty * (mark/100) / factor^1.25)
//
// where factor is the project type's configured point amount. Callers skip
// projects without a positive difficulty before reaching this formula.
func ProjectPoints(mark, difficulty, factor int64) int64 {
	if factor <= 0 {
		return 0
	}
	base := float64(mark) * float64(factor)
	scaled := float64(difficulty) * (float64(mark) / 100.0) / math.Pow(float64(factor), 1.25)
	return int64(base + scaled)
}

// ProjectReason renders the reason for a validated project or exam.
func ProjectReason(name string, mark int64) string {
	return fmt.Sprintf("Validated %s with %d%%", name, mark)
}

// EvaluationReason renders the reason for a filled peer evaluation.
func EvaluationReason(projectID int64) string {
	return fmt.Sprintf("Filled an evaluation on project %d", projectID)
}

// DonationPoints scores a pool donation: the donated difference times the
// configured per-point amount. A withdrawal yields a negative grant.
func DonationPoints(oldTotal, newTotal, perPoint int64) int64 {
	return (newTotal - oldTotal) * perPoint
}

// DonationReason renders the reason for a pool donation grant.
func DonationReason(donated int64) string {
	return fmt.Sprintf("Donated %d points to the pool", donated)
}

// DisqualifiedUser reports whether a user may never receive grants: staff,
// configured test accounts, and users with no coalition membership.
func DisqualifiedUser(u *models.User, cfg *config.Config) bool {
	if u == nil {
		return true
	}
	if u.IsStaff {
		return true
	}
	if u.CoalitionID == nil {
		return true
	}
	return cfg.IsTestAccount(u.Login)
}
