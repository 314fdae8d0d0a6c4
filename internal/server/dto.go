package server

import (
	"deskline/internal/domain"
	"deskline/internal/engine"
	"deskline/internal/notify"
)

type MessageRequest struct {
	Text string `json:"text" example:"Our invoice for March is missing a line item."`
}

type ActionRequest struct {
	Action     string `json:"action" example:"take"`
	RequestID  string `json:"request_id,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
	Comment    string `json:"comment,omitempty"`
}

type SessionResponse struct {
	State      string `json:"state"`
	CategoryID string `json:"category_id,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

// OutcomeResponse mirrors engine.Outcome for transports: the result tag,
// the machine reason when not ok, and everything sent while handling.
type OutcomeResponse struct {
	Result   string           `json:"result" enum:"ok,rejected,conflict,ignored"`
	Reason   string           `json:"reason,omitempty"`
	Messages []notify.Message `json:"messages,omitempty"`
	Session  *SessionResponse `json:"session,omitempty"`
}

func outcomeResponse(out engine.Outcome) OutcomeResponse {
	res := OutcomeResponse{
		Result:   string(out.Result),
		Reason:   out.Reason,
		Messages: out.Messages,
	}
	if out.Session != nil && out.Session.State != domain.StateIdle {
		res.Session = &SessionResponse{
			State:      string(out.Session.State),
			CategoryID: out.Session.CategoryID,
			RequestID:  out.Session.RequestID,
		}
	}
	return res
}

type CreateCategoryRequest struct {
	Name string `json:"name" example:"Billing"`
	Tag  string `json:"tag" example:"billing"`
}

type RenameCategoryRequest struct {
	Name string `json:"name"`
}

type SetRoleRequest struct {
	Role string `json:"role" enum:"requester,fulfiller,reviewer"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at"`
}

type StatusResponse struct {
	DeskID        string         `json:"desk_id"`
	DeskName      string         `json:"desk_name,omitempty"`
	RequestCounts map[string]int `json:"request_counts"`
}
