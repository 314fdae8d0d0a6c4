package engine

import (
	"deskline/internal/domain"
	"deskline/internal/notify"
)

// Result classifies how an interaction was absorbed. Conflicts and
// rejections are ordinary outcomes, not errors: the engine replies to the
// actor and leaves persistent state untouched.
type Result string

const (
	// ResultOK means the interaction changed state as intended.
	ResultOK Result = "ok"
	// ResultRejected means input validation failed; nothing changed.
	ResultRejected Result = "rejected"
	// ResultConflict means the world moved on first (already handled,
	// assignment held, stale session); nothing changed here.
	ResultConflict Result = "conflict"
	// ResultIgnored means the interaction made no sense in the actor's
	// current state and was dropped without a reply.
	ResultIgnored Result = "ignored"
)

// Rejection and conflict reasons. These are machine tags for callers and
// tests; actor-facing wording comes from the i18n catalogs.
const (
	ReasonTooShort           = "too_short"
	ReasonUnknownCategory    = "unknown_category"
	ReasonAlreadyHandled     = "already_handled"
	ReasonAssignmentConflict = "assignment_conflict"
	ReasonBanned             = "banned"
	ReasonNotFound           = "not_found"
	ReasonStaleSession       = "stale_session"
	ReasonForbidden          = "forbidden"
)

// Action names carried on inline controls and accepted by HandleAction.
const (
	ActionNewRequest    = "new"
	ActionCategory      = "category"
	ActionBack          = "back"
	ActionConfirm       = "confirm"
	ActionEdit          = "edit"
	ActionTake          = "take"
	ActionReject        = "reject"
	ActionApprove       = "approve"
	ActionDecline       = "decline"
	ActionApproveAnswer = "approve_answer"
	ActionDeclineAnswer = "decline_answer"
)

// Outcome reports what an interaction did: the result tag, the reason when
// not ok, every message sent while handling it, and the actor's session
// afterwards (nil when no flow is active).
type Outcome struct {
	Result   Result
	Reason   string
	Messages []notify.Message
	Session  *domain.Session
}

func outcomeOK() Outcome      { return Outcome{Result: ResultOK} }
func outcomeIgnored() Outcome { return Outcome{Result: ResultIgnored} }

func outcomeRejected(reason string) Outcome {
	return Outcome{Result: ResultRejected, Reason: reason}
}

func outcomeConflict(reason string) Outcome {
	return Outcome{Result: ResultConflict, Reason: reason}
}

// ActionInput is one tapped control or API action. RequestID targets
// lifecycle actions, CategoryID the category pick, Comment carries an
// optional reviewer reason.
type ActionInput struct {
	ActorID    string
	Name       string
	RequestID  string
	CategoryID string
	Comment    string
}

// ValidationError marks bad administrative input; transports map it to a
// client error rather than a server failure.
type ValidationError struct{ Msg string }

func (e ValidationError) Error() string { return e.Msg }

// ConflictError marks an administrative operation refused because of
// current state, such as deleting a referenced category.
type ConflictError struct{ Msg string }

func (e ConflictError) Error() string { return e.Msg }
