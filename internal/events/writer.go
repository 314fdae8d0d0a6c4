package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine. Every lifecycle transition writes
// exactly one of these in the same transaction as the state change.
const (
	RequestSubmitted   = "request.submitted"
	RequestApproved    = "request.approved"
	RequestDeclined    = "request.declined"
	AssignmentTaken    = "assignment.taken"
	AssignmentRejected = "assignment.rejected"
	AnswerSubmitted    = "answer.submitted"
	AnswerApproved     = "answer.approved"
	AnswerDeclined     = "answer.declined"
	ActorPromoted      = "actor.promoted"
	ActorBanned        = "actor.banned"
	ActorUnbanned      = "actor.unbanned"
	CategoryCreated    = "category.created"
	CategoryRenamed    = "category.renamed"
	CategoryDeleted    = "category.deleted"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
