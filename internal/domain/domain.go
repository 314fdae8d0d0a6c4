package domain

// Actor roles. Role is assigned, never self-declared; a requester is
// promoted to fulfiller the first time a take succeeds and never demoted.
const (
	RoleRequester = "requester"
	RoleFulfiller = "fulfiller"
	RoleReviewer  = "reviewer"
)

// Request statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDeclined = "declined"
	StatusAssigned = "assigned"
	StatusAnswered = "answered"
	StatusClosed   = "closed"
)

type Actor struct {
	ID                  string  `json:"id"`
	Role                string  `json:"role" enum:"requester,fulfiller,reviewer"`
	Banned              bool    `json:"banned"`
	CurrentAssignmentID *string `json:"current_assignment_id,omitempty"`
	Locale              string  `json:"locale,omitempty"`
	CreatedAt           string  `json:"created_at" format:"date-time"`
	UpdatedAt           string  `json:"updated_at" format:"date-time"`
}

type Request struct {
	ID              string  `json:"id"`
	RequesterID     string  `json:"requester_id"`
	CategoryID      string  `json:"category_id"`
	Text            string  `json:"text"`
	Status          string  `json:"status" enum:"pending,approved,declined,assigned,answered,closed"`
	FulfillerID     *string `json:"fulfiller_id,omitempty"`
	AnswerText      *string `json:"answer_text,omitempty"`
	ReviewerComment *string `json:"reviewer_comment,omitempty"`
	BroadcastRef    *string `json:"broadcast_ref,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Tag       string `json:"tag"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Capabilities is the single role-resolution result consumed by the
// conversation machines instead of ad hoc role checks.
type Capabilities struct {
	CanRequest bool
	CanFulfill bool
	CanReview  bool
}

func CapabilitiesFor(role string) Capabilities {
	switch role {
	case RoleReviewer:
		return Capabilities{CanRequest: true, CanFulfill: true, CanReview: true}
	case RoleFulfiller:
		return Capabilities{CanRequest: true, CanFulfill: true}
	default:
		return Capabilities{CanRequest: true}
	}
}

// IsTerminal reports whether a request status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusDeclined || status == StatusClosed
}
