package authgate

// OutcomeKind is the discriminant of a VerifyOutcome. Callers are expected to
// switch over it exhaustively.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailed
	OutcomeFailedAtThreshold
	OutcomeFailedWithAlert
	OutcomeLockedOut
	OutcomeNotConfigured
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeFailedAtThreshold:
		return "failed_at_threshold"
	case OutcomeFailedWithAlert:
		return "failed_with_alert"
	case OutcomeLockedOut:
		return "locked_out"
	case OutcomeNotConfigured:
		return "not_configured"
	}
	return "unknown"
}

// VerifyOutcome is the typed result of a credential check.
//
//   - FailedCount is set for the failure kinds.
//   - LockoutSeconds is set on FailedWithAlert (the lockout just imposed).
//   - RemainingSeconds is set on LockedOut (time left in the window).
type VerifyOutcome struct {
	Kind             OutcomeKind
	FailedCount      uint
	LockoutSeconds   int
	RemainingSeconds int
}
