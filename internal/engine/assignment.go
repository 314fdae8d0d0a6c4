package engine

import (
	"context"
	"errors"
	"fmt"

	"deskline/internal/domain"
	"deskline/internal/events"
	"deskline/internal/notify"
	"deskline/internal/repo"
)

// takeRequest claims an approved request for the acting actor. The assign
// and the actor's back-reference claim ride one transaction; whichever
// guard matches zero rows decides the conflict reported. A requester's
// first successful take promotes them to fulfiller in the same transaction.
func (e *Engine) takeRequest(ctx context.Context, actor domain.Actor, requestID string) (Outcome, error) {
	req, err := e.Repo.GetRequest(ctx, requestID)
	if errors.Is(err, repo.ErrNotFound) {
		out := outcomeConflict(ReasonNotFound)
		e.tell(ctx, &out, actor, "error.not_found", nil)
		return out, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("get request: %w", err)
	}
	if req.Status != domain.StatusApproved {
		out := outcomeConflict(ReasonAlreadyHandled)
		e.tell(ctx, &out, actor, "error.already_handled", nil)
		return out, nil
	}
	if actor.CurrentAssignmentID != nil {
		out := outcomeConflict(ReasonAssignmentConflict)
		e.tell(ctx, &out, actor, "error.assignment_conflict", nil)
		return out, nil
	}

	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.AssignRequestTx(ctx, tx, req.ID, actor.ID, now); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			out := outcomeConflict(ReasonAlreadyHandled)
			e.tell(ctx, &out, actor, "error.already_handled", nil)
			return out, nil
		}
		return Outcome{}, fmt.Errorf("assign request: %w", err)
	}
	if err := e.Repo.ClaimAssignmentTx(ctx, tx, actor.ID, req.ID, now); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			out := outcomeConflict(ReasonAssignmentConflict)
			e.tell(ctx, &out, actor, "error.assignment_conflict", nil)
			return out, nil
		}
		return Outcome{}, fmt.Errorf("claim assignment: %w", err)
	}
	promoted, err := e.Repo.PromoteToFulfillerTx(ctx, tx, actor.ID, now)
	if err != nil {
		return Outcome{}, fmt.Errorf("promote actor: %w", err)
	}
	err = e.Events.Append(ctx, tx, events.AssignmentTaken, "request", req.ID, actor.ID,
		events.EventPayload{"fulfiller_id": actor.ID})
	if err != nil {
		return Outcome{}, err
	}
	if promoted {
		err = e.Events.Append(ctx, tx, events.ActorPromoted, "actor", actor.ID, actor.ID,
			events.EventPayload{"role": domain.RoleFulfiller})
		if err != nil {
			return Outcome{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, err
	}

	out := outcomeOK()
	e.retireOffer(ctx, req, actor)
	sess := domain.Session{State: domain.StateWritingAnswer, RequestID: req.ID}
	e.Sessions.Set(actor.ID, sess)
	out.Session = &sess
	e.tell(ctx, &out, actor, "fulfiller.assigned", map[string]string{"text": req.Text},
		e.action(e.locale(actor), ActionReject, req.ID))
	return out, nil
}

// retireOffer edits the broadcast offer so the channel shows who took it
// and the take control disappears.
func (e *Engine) retireOffer(ctx context.Context, req domain.Request, actor domain.Actor) {
	if req.BroadcastRef == nil {
		return
	}
	loc := e.Config.Locale.Default
	msg := notify.Message{
		Channel: notify.ChannelFulfillers,
		Text: e.text(loc, "fulfiller.offer_taken", map[string]string{
			"category": e.categoryName(ctx, req.CategoryID),
			"actor":    actor.ID,
		}),
	}
	if err := e.Notifier.Edit(ctx, notify.MessageRef(*req.BroadcastRef), msg); err != nil {
		e.Logger.Printf("notify: edit offer for request %s: %v", req.ID, err)
	}
}

// rejectAssignment gives a held assignment back to the pool. Only the
// holder can do it; the request returns to approved and is re-broadcast.
func (e *Engine) rejectAssignment(ctx context.Context, actor domain.Actor, requestID string) (Outcome, error) {
	if actor.CurrentAssignmentID == nil || *actor.CurrentAssignmentID != requestID {
		return e.staleSession(ctx, actor), nil
	}

	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.ReleaseAssignmentTx(ctx, tx, requestID, actor.ID, now); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return e.staleSession(ctx, actor), nil
		}
		return Outcome{}, fmt.Errorf("release assignment: %w", err)
	}
	if err := e.Repo.ClearAssignmentTx(ctx, tx, actor.ID, requestID, now); err != nil {
		return Outcome{}, fmt.Errorf("clear assignment: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.AssignmentRejected, "request", requestID, actor.ID, nil); err != nil {
		return Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, err
	}

	e.Sessions.Clear(actor.ID)
	out := outcomeOK()
	e.tell(ctx, &out, actor, "fulfiller.assignment_released", nil)
	req, err := e.Repo.GetRequest(ctx, requestID)
	if err != nil {
		e.Logger.Printf("rebroadcast after reject: get request %s: %v", requestID, err)
		return out, nil
	}
	e.broadcastOffer(ctx, &out, req)
	return out, nil
}
