package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"deskline/internal/domain"
	"deskline/internal/events"
	"deskline/internal/notify"
	"deskline/internal/repo"
)

// startRequestFlow opens the intake flow, replacing any flow the actor had.
func (e *Engine) startRequestFlow(ctx context.Context, actor domain.Actor) (Outcome, error) {
	cats, err := e.Repo.ListCategories(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("list categories: %w", err)
	}
	sess := e.Sessions.Update(actor.ID, func(domain.Session, bool) (domain.Session, bool) {
		return domain.Session{State: domain.StateSelectingCategory}, true
	})
	out := outcomeOK()
	out.Session = &sess
	e.tell(ctx, &out, actor, "requester.choose_category", nil, e.categoryActions(actor, cats)...)
	return out, nil
}

func (e *Engine) categoryActions(actor domain.Actor, cats []domain.Category) []notify.Action {
	actions := make([]notify.Action, 0, len(cats)+1)
	for _, c := range cats {
		actions = append(actions, notify.Action{Name: ActionCategory, Label: c.Name, CategoryID: c.ID})
	}
	actions = append(actions, e.action(e.locale(actor), ActionBack, ""))
	return actions
}

// categoryChosen records the picked category and asks for the request text.
// A stale pick (deleted category, wrong state) changes nothing.
func (e *Engine) categoryChosen(ctx context.Context, actor domain.Actor, categoryID string) (Outcome, error) {
	cat, err := e.Repo.GetCategory(ctx, categoryID)
	if err == repo.ErrNotFound {
		sess, exists := e.Sessions.Get(actor.ID)
		if !exists || sess.State != domain.StateSelectingCategory {
			return outcomeIgnored(), nil
		}
		out := outcomeRejected(ReasonUnknownCategory)
		out.Session = &sess
		e.tell(ctx, &out, actor, "error.unknown_category", nil)
		return out, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("get category: %w", err)
	}
	var applied bool
	sess := e.Sessions.Update(actor.ID, func(s domain.Session, exists bool) (domain.Session, bool) {
		if !exists || s.State != domain.StateSelectingCategory {
			return s, exists
		}
		applied = true
		s.State = domain.StateEnteringRequest
		s.CategoryID = cat.ID
		return s, true
	})
	if !applied {
		return outcomeIgnored(), nil
	}
	out := outcomeOK()
	out.Session = &sess
	e.tell(ctx, &out, actor, "requester.enter_text", map[string]string{"category": cat.Name},
		e.action(e.locale(actor), ActionBack, ""))
	return out, nil
}

// requestTextEntered takes the typed request text. Too-short text keeps the
// actor in entering_request with everything retained.
func (e *Engine) requestTextEntered(ctx context.Context, actor domain.Actor, sess domain.Session, text string) (Outcome, error) {
	trimmed := strings.TrimSpace(text)
	min := e.Config.Intake.MinRequestLength
	if utf8.RuneCountInString(trimmed) < min {
		out := outcomeRejected(ReasonTooShort)
		out.Session = &sess
		e.tell(ctx, &out, actor, "requester.too_short", map[string]string{"min": strconv.Itoa(min)})
		return out, nil
	}
	var applied bool
	next := e.Sessions.Update(actor.ID, func(s domain.Session, exists bool) (domain.Session, bool) {
		if !exists || s.State != domain.StateEnteringRequest {
			return s, exists
		}
		applied = true
		s.State = domain.StateConfirmingRequest
		s.Draft = trimmed
		return s, true
	})
	if !applied {
		return outcomeIgnored(), nil
	}
	out := outcomeOK()
	out.Session = &next
	loc := e.locale(actor)
	e.tell(ctx, &out, actor, "requester.confirm", map[string]string{
		"category": e.categoryName(ctx, next.CategoryID),
		"text":     trimmed,
	}, e.action(loc, ActionConfirm, ""), e.action(loc, ActionEdit, ""), e.action(loc, ActionBack, ""))
	return out, nil
}

// confirmRequest creates the pending request from the confirmed draft. The
// session is claimed before the write so a duplicate confirm finds no draft
// and is ignored instead of filing twice.
func (e *Engine) confirmRequest(ctx context.Context, actor domain.Actor) (Outcome, error) {
	var draft domain.Session
	var claimed bool
	e.Sessions.Update(actor.ID, func(s domain.Session, exists bool) (domain.Session, bool) {
		if !exists || s.State != domain.StateConfirmingRequest {
			return s, exists
		}
		draft = s
		claimed = true
		return domain.Session{}, false
	})
	if !claimed {
		return outcomeIgnored(), nil
	}
	cat, err := e.Repo.GetCategory(ctx, draft.CategoryID)
	if err == repo.ErrNotFound {
		e.Sessions.Set(actor.ID, draft)
		out := outcomeRejected(ReasonUnknownCategory)
		out.Session = &draft
		e.tell(ctx, &out, actor, "error.unknown_category", nil)
		return out, nil
	}
	if err != nil {
		e.Sessions.Set(actor.ID, draft)
		return Outcome{}, fmt.Errorf("get category: %w", err)
	}

	now := e.now()
	req := domain.Request{
		ID:          uuid.New().String(),
		RequesterID: actor.ID,
		CategoryID:  cat.ID,
		Text:        draft.Draft,
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.createRequest(ctx, actor, req, cat); err != nil {
		e.Sessions.Set(actor.ID, draft)
		return Outcome{}, err
	}

	out := outcomeOK()
	e.tell(ctx, &out, actor, "requester.submitted", nil)
	loc := e.Config.Locale.Default
	e.announceToReviewers(ctx, &out, "reviewer.new_request", map[string]string{
		"category":  cat.Name,
		"requester": actor.ID,
		"text":      req.Text,
	}, e.action(loc, ActionApprove, req.ID), e.action(loc, ActionDecline, req.ID))
	return out, nil
}

func (e *Engine) createRequest(ctx context.Context, actor domain.Actor, req domain.Request, cat domain.Category) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRequest(ctx, tx, req); err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	err = e.Events.Append(ctx, tx, events.RequestSubmitted, "request", req.ID, actor.ID,
		events.EventPayload{"category": cat.Tag})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// editRequest returns from the confirmation preview to text entry with the
// category retained.
func (e *Engine) editRequest(ctx context.Context, actor domain.Actor) (Outcome, error) {
	var applied bool
	sess := e.Sessions.Update(actor.ID, func(s domain.Session, exists bool) (domain.Session, bool) {
		if !exists || s.State != domain.StateConfirmingRequest {
			return s, exists
		}
		applied = true
		s.State = domain.StateEnteringRequest
		return s, true
	})
	if !applied {
		return outcomeIgnored(), nil
	}
	out := outcomeOK()
	out.Session = &sess
	e.tell(ctx, &out, actor, "requester.enter_text",
		map[string]string{"category": e.categoryName(ctx, sess.CategoryID)},
		e.action(e.locale(actor), ActionBack, ""))
	return out, nil
}

// stepBack walks one step up the intake flow; from category selection it
// cancels the flow entirely. Collected fields survive the walk so going
// forward again does not retype them.
func (e *Engine) stepBack(ctx context.Context, actor domain.Actor) (Outcome, error) {
	from := domain.StateIdle
	sess := e.Sessions.Update(actor.ID, func(s domain.Session, exists bool) (domain.Session, bool) {
		if !exists {
			return s, exists
		}
		switch s.State {
		case domain.StateSelectingCategory:
			from = s.State
			return domain.Session{}, false
		case domain.StateEnteringRequest:
			from = s.State
			s.State = domain.StateSelectingCategory
			return s, true
		case domain.StateConfirmingRequest:
			from = s.State
			s.State = domain.StateEnteringRequest
			return s, true
		default:
			return s, exists
		}
	})
	switch from {
	case domain.StateSelectingCategory:
		out := outcomeOK()
		e.tell(ctx, &out, actor, "requester.cancelled", nil)
		return out, nil
	case domain.StateEnteringRequest:
		cats, err := e.Repo.ListCategories(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("list categories: %w", err)
		}
		out := outcomeOK()
		out.Session = &sess
		e.tell(ctx, &out, actor, "requester.choose_category", nil, e.categoryActions(actor, cats)...)
		return out, nil
	case domain.StateConfirmingRequest:
		out := outcomeOK()
		out.Session = &sess
		e.tell(ctx, &out, actor, "requester.enter_text",
			map[string]string{"category": e.categoryName(ctx, sess.CategoryID)},
			e.action(e.locale(actor), ActionBack, ""))
		return out, nil
	default:
		return outcomeIgnored(), nil
	}
}
