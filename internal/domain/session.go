package domain

// State tags the step an actor's conversation is at. The zero value means
// no active flow.
type State string

const (
	StateIdle              State = ""
	StateSelectingCategory State = "selecting_category"
	StateEnteringRequest   State = "entering_request"
	StateConfirmingRequest State = "confirming_request"
	StateWritingAnswer     State = "writing_answer"
	StateConfirmingAnswer  State = "confirming_answer"
)

// Valid reports whether s is a known state tag. New states must be added
// here and handled by every consumer.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateSelectingCategory, StateEnteringRequest, StateConfirmingRequest,
		StateWritingAnswer, StateConfirmingAnswer:
		return true
	}
	return false
}

// Session is the ephemeral per-actor conversation state. It is never
// persisted; every durable fact lives on Request or Actor, so a lost
// session degrades to "no active flow".
type Session struct {
	State      State
	CategoryID string // requester flow: chosen category
	Draft      string // requester flow: request text, fulfiller flow: answer text
	RequestID  string // fulfiller flow: the held assignment
	UpdatedAt  string
}
