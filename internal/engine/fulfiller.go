package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deskline/internal/domain"
	"deskline/internal/events"
	"deskline/internal/repo"
)

// holdsAssignment reports whether the request still backs the actor's
// answering flow. False means the session went stale underneath them.
func holdsAssignment(req domain.Request, actorID string) bool {
	return req.Status == domain.StatusAssigned &&
		req.FulfillerID != nil && *req.FulfillerID == actorID
}

// answerTextEntered takes the typed answer and moves to the confirmation
// preview. Empty text is dropped.
func (e *Engine) answerTextEntered(ctx context.Context, actor domain.Actor, sess domain.Session, text string) (Outcome, error) {
	req, err := e.Repo.GetRequest(ctx, sess.RequestID)
	if errors.Is(err, repo.ErrNotFound) {
		return e.staleSession(ctx, actor), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("get request: %w", err)
	}
	if !holdsAssignment(req, actor.ID) {
		return e.staleSession(ctx, actor), nil
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return outcomeIgnored(), nil
	}
	var applied bool
	next := e.Sessions.Update(actor.ID, func(s domain.Session, exists bool) (domain.Session, bool) {
		if !exists || s.State != domain.StateWritingAnswer {
			return s, exists
		}
		applied = true
		s.State = domain.StateConfirmingAnswer
		s.Draft = trimmed
		return s, true
	})
	if !applied {
		return outcomeIgnored(), nil
	}
	out := outcomeOK()
	out.Session = &next
	loc := e.locale(actor)
	e.tell(ctx, &out, actor, "fulfiller.confirm_answer", map[string]string{"answer": trimmed},
		e.action(loc, ActionConfirm, ""), e.action(loc, ActionEdit, ""), e.action(loc, ActionReject, req.ID))
	return out, nil
}

// confirmAnswer submits the confirmed answer for review. The session is
// claimed first so a duplicate confirm is ignored; losing the status race
// (reviewer reassigned the request meanwhile) surfaces as a stale session.
func (e *Engine) confirmAnswer(ctx context.Context, actor domain.Actor, sess domain.Session) (Outcome, error) {
	req, err := e.Repo.GetRequest(ctx, sess.RequestID)
	if errors.Is(err, repo.ErrNotFound) {
		return e.staleSession(ctx, actor), nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("get request: %w", err)
	}
	if !holdsAssignment(req, actor.ID) {
		return e.staleSession(ctx, actor), nil
	}

	var draft domain.Session
	var claimed bool
	e.Sessions.Update(actor.ID, func(s domain.Session, exists bool) (domain.Session, bool) {
		if !exists || s.State != domain.StateConfirmingAnswer {
			return s, exists
		}
		draft = s
		claimed = true
		return domain.Session{}, false
	})
	if !claimed {
		return outcomeIgnored(), nil
	}

	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.Sessions.Set(actor.ID, draft)
		return Outcome{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SubmitAnswerTx(ctx, tx, req.ID, actor.ID, draft.Draft, now); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			out := outcomeConflict(ReasonStaleSession)
			e.tell(ctx, &out, actor, "error.stale_session", nil)
			return out, nil
		}
		e.Sessions.Set(actor.ID, draft)
		return Outcome{}, fmt.Errorf("submit answer: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.AnswerSubmitted, "request", req.ID, actor.ID, nil); err != nil {
		e.Sessions.Set(actor.ID, draft)
		return Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		e.Sessions.Set(actor.ID, draft)
		return Outcome{}, err
	}

	out := outcomeOK()
	e.tell(ctx, &out, actor, "fulfiller.answer_submitted", nil)
	loc := e.Config.Locale.Default
	e.announceToReviewers(ctx, &out, "reviewer.answer_review", map[string]string{
		"category": e.categoryName(ctx, req.CategoryID),
		"text":     req.Text,
		"answer":   draft.Draft,
	}, e.action(loc, ActionApproveAnswer, req.ID), e.action(loc, ActionDeclineAnswer, req.ID))
	return out, nil
}

// editAnswer discards the previewed draft and reopens text entry.
func (e *Engine) editAnswer(ctx context.Context, actor domain.Actor) (Outcome, error) {
	var applied bool
	sess := e.Sessions.Update(actor.ID, func(s domain.Session, exists bool) (domain.Session, bool) {
		if !exists || s.State != domain.StateConfirmingAnswer {
			return s, exists
		}
		applied = true
		s.State = domain.StateWritingAnswer
		s.Draft = ""
		return s, true
	})
	if !applied {
		return outcomeIgnored(), nil
	}
	out := outcomeOK()
	out.Session = &sess
	e.tell(ctx, &out, actor, "fulfiller.edit_answer", nil,
		e.action(e.locale(actor), ActionReject, sess.RequestID))
	return out, nil
}
