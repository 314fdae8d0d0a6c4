package engine

import (
	"context"
	"errors"
	"fmt"

	"deskline/internal/domain"
	"deskline/internal/events"
	"deskline/internal/repo"
)

// Reviewer actions are single idempotent gates keyed on the request's
// current status. Taps from a channel message can arrive twice or from two
// reviewers; whoever loses the guarded update gets already_handled.

// loadForReview gates a reviewer action: role check, request lookup, status
// precondition. A non-nil Outcome means the action already ended.
func (e *Engine) loadForReview(ctx context.Context, actor domain.Actor, requestID, wantStatus string) (domain.Request, *Outcome, error) {
	if !domain.CapabilitiesFor(actor.Role).CanReview {
		out := outcomeRejected(ReasonForbidden)
		return domain.Request{}, &out, nil
	}
	req, err := e.Repo.GetRequest(ctx, requestID)
	if errors.Is(err, repo.ErrNotFound) {
		out := outcomeConflict(ReasonNotFound)
		return domain.Request{}, &out, nil
	}
	if err != nil {
		return domain.Request{}, nil, fmt.Errorf("get request: %w", err)
	}
	if req.Status != wantStatus {
		out := outcomeConflict(ReasonAlreadyHandled)
		return domain.Request{}, &out, nil
	}
	return req, nil, nil
}

// requesterOf resolves the requester for locale-aware delivery. A lookup
// failure degrades to the desk default locale, not a lost message.
func (e *Engine) requesterOf(ctx context.Context, req domain.Request) domain.Actor {
	a, err := e.Repo.GetActor(ctx, req.RequesterID)
	if err != nil {
		return domain.Actor{ID: req.RequesterID}
	}
	return a
}

// approveRequest moves pending -> approved and offers the request to the
// fulfiller pool.
func (e *Engine) approveRequest(ctx context.Context, actor domain.Actor, requestID string) (Outcome, error) {
	req, stop, err := e.loadForReview(ctx, actor, requestID, domain.StatusPending)
	if err != nil || stop != nil {
		return stopOutcome(stop), err
	}
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.ApproveRequestTx(ctx, tx, req.ID, now); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return outcomeConflict(ReasonAlreadyHandled), nil
		}
		return Outcome{}, fmt.Errorf("approve request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.RequestApproved, "request", req.ID, actor.ID, nil); err != nil {
		return Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, err
	}

	out := outcomeOK()
	e.tell(ctx, &out, e.requesterOf(ctx, req), "requester.approved", nil)
	e.broadcastOffer(ctx, &out, req)
	return out, nil
}

// declineRequest moves pending -> declined, a terminal status, relaying the
// reviewer's reason to the requester when given.
func (e *Engine) declineRequest(ctx context.Context, actor domain.Actor, requestID, comment string) (Outcome, error) {
	req, stop, err := e.loadForReview(ctx, actor, requestID, domain.StatusPending)
	if err != nil || stop != nil {
		return stopOutcome(stop), err
	}
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.DeclineRequestTx(ctx, tx, req.ID, comment, now); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return outcomeConflict(ReasonAlreadyHandled), nil
		}
		return Outcome{}, fmt.Errorf("decline request: %w", err)
	}
	err = e.Events.Append(ctx, tx, events.RequestDeclined, "request", req.ID, actor.ID,
		events.EventPayload{"comment": comment})
	if err != nil {
		return Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, err
	}

	out := outcomeOK()
	key, params := "requester.declined_no_comment", map[string]string(nil)
	if comment != "" {
		key, params = "requester.declined", map[string]string{"comment": comment}
	}
	e.tell(ctx, &out, e.requesterOf(ctx, req), key, params)
	return out, nil
}

// approveAnswer closes the request and delivers the answer. The fulfiller's
// back-reference is released in the same transaction.
func (e *Engine) approveAnswer(ctx context.Context, actor domain.Actor, requestID, comment string) (Outcome, error) {
	req, stop, err := e.loadForReview(ctx, actor, requestID, domain.StatusAnswered)
	if err != nil || stop != nil {
		return stopOutcome(stop), err
	}
	if req.FulfillerID == nil || req.AnswerText == nil {
		return Outcome{}, fmt.Errorf("request %s answered without fulfiller or answer", req.ID)
	}
	fulfillerID, answer := *req.FulfillerID, *req.AnswerText

	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.CloseRequestTx(ctx, tx, req.ID, comment, now); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return outcomeConflict(ReasonAlreadyHandled), nil
		}
		return Outcome{}, fmt.Errorf("close request: %w", err)
	}
	if err := e.Repo.ClearAssignmentTx(ctx, tx, fulfillerID, req.ID, now); err != nil {
		return Outcome{}, fmt.Errorf("clear assignment: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.AnswerApproved, "request", req.ID, actor.ID, nil); err != nil {
		return Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, err
	}

	out := outcomeOK()
	e.tell(ctx, &out, e.requesterOf(ctx, req), "requester.answer", map[string]string{"answer": answer})
	if fulfiller, err := e.Repo.GetActor(ctx, fulfillerID); err == nil {
		e.tell(ctx, &out, fulfiller, "fulfiller.answer_approved", nil)
	}
	return out, nil
}

// declineAnswer sends the request back to the open pool. The fulfiller is
// released and told why; the offer is broadcast again.
func (e *Engine) declineAnswer(ctx context.Context, actor domain.Actor, requestID, comment string) (Outcome, error) {
	req, stop, err := e.loadForReview(ctx, actor, requestID, domain.StatusAnswered)
	if err != nil || stop != nil {
		return stopOutcome(stop), err
	}
	if req.FulfillerID == nil {
		return Outcome{}, fmt.Errorf("request %s answered without fulfiller", req.ID)
	}
	fulfillerID := *req.FulfillerID

	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.ReopenAnsweredTx(ctx, tx, req.ID, comment, now); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return outcomeConflict(ReasonAlreadyHandled), nil
		}
		return Outcome{}, fmt.Errorf("reopen request: %w", err)
	}
	if err := e.Repo.ClearAssignmentTx(ctx, tx, fulfillerID, req.ID, now); err != nil {
		return Outcome{}, fmt.Errorf("clear assignment: %w", err)
	}
	err = e.Events.Append(ctx, tx, events.AnswerDeclined, "request", req.ID, actor.ID,
		events.EventPayload{"comment": comment, "fulfiller_id": fulfillerID})
	if err != nil {
		return Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, err
	}

	// Drop the fulfiller's session only if it still references this request.
	// A flow they started after submitting the answer is unrelated and stays.
	e.Sessions.Update(fulfillerID, func(s domain.Session, exists bool) (domain.Session, bool) {
		return s, exists && s.RequestID != req.ID
	})
	out := outcomeOK()
	if fulfiller, err := e.Repo.GetActor(ctx, fulfillerID); err == nil {
		key, params := "fulfiller.answer_declined_no_comment", map[string]string(nil)
		if comment != "" {
			key, params = "fulfiller.answer_declined", map[string]string{"comment": comment}
		}
		e.tell(ctx, &out, fulfiller, key, params)
	}
	e.broadcastOffer(ctx, &out, req)
	return out, nil
}

func stopOutcome(stop *Outcome) Outcome {
	if stop == nil {
		return Outcome{}
	}
	return *stop
}
