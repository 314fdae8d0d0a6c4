// Package engine is the lifecycle coordinator. It owns the request status
// graph, the per-actor conversation machines, and the at-most-one-active-
// assignment rule. Every state change is one SQLite transaction pairing the
// guarded update with its event record; notifications go out only after
// commit.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"deskline/internal/config"
	"deskline/internal/domain"
	"deskline/internal/events"
	"deskline/internal/i18n"
	"deskline/internal/notify"
	"deskline/internal/repo"
	"deskline/internal/session"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Sessions *session.Store
	Notifier notify.Notifier
	Config   *config.Config
	T        *i18n.Translator
	Logger   *log.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, tr *i18n.Translator, notifier notify.Notifier) *Engine {
	return &Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db, Now: time.Now},
		Sessions: session.NewStore(),
		Notifier: notifier,
		Config:   cfg,
		T:        tr,
		Logger:   log.Default(),
		Now:      time.Now,
	}
}

func (e *Engine) now() string {
	return e.Now().UTC().Format(time.RFC3339)
}

func (e *Engine) locale(a domain.Actor) string {
	if a.Locale != "" {
		return a.Locale
	}
	return e.Config.Locale.Default
}

func (e *Engine) text(locale, key string, params map[string]string) string {
	return e.T.Resolve(key, locale, params)
}

// admit loads (creating if unseen) the acting actor and enforces the ban.
// A non-nil Outcome means the interaction already ended.
func (e *Engine) admit(ctx context.Context, actorID string) (domain.Actor, *Outcome, error) {
	if actorID == "" {
		out := outcomeRejected(ReasonForbidden)
		return domain.Actor{}, &out, nil
	}
	actor, err := e.Repo.Ensure(ctx, actorID, e.now())
	if err != nil {
		return domain.Actor{}, nil, fmt.Errorf("ensure actor %s: %w", actorID, err)
	}
	if actor.Banned {
		out := outcomeRejected(ReasonBanned)
		e.tell(ctx, &out, actor, "error.banned", nil)
		return actor, &out, nil
	}
	return actor, nil, nil
}

// send delivers one message and records it on the outcome. Delivery
// failures are logged, never propagated: the state change they report is
// already committed.
func (e *Engine) send(ctx context.Context, out *Outcome, msg notify.Message) notify.MessageRef {
	ref, err := e.Notifier.Send(ctx, msg)
	if err != nil {
		e.Logger.Printf("notify: send to channel %s failed: %v", msg.Channel, err)
	}
	out.Messages = append(out.Messages, msg)
	return ref
}

// tell sends a private message to one actor in their locale.
func (e *Engine) tell(ctx context.Context, out *Outcome, actor domain.Actor, key string, params map[string]string, actions ...notify.Action) {
	e.send(ctx, out, notify.Message{
		Channel: notify.ChannelRequester,
		ActorID: actor.ID,
		Text:    e.text(e.locale(actor), key, params),
		Actions: actions,
	})
}

// action builds an inline control labelled in the given locale.
func (e *Engine) action(locale, name, requestID string) notify.Action {
	key := "action." + name
	switch name {
	case ActionNewRequest:
		key = "action.new_request"
	case ActionApproveAnswer:
		key = "action.approve"
	case ActionDeclineAnswer:
		key = "action.decline"
	}
	return notify.Action{Name: name, Label: e.text(locale, key, nil), RequestID: requestID}
}

// categoryName resolves a category's display name, falling back to the id
// when the category has since been deleted.
func (e *Engine) categoryName(ctx context.Context, categoryID string) string {
	cat, err := e.Repo.GetCategory(ctx, categoryID)
	if err != nil {
		return categoryID
	}
	return cat.Name
}

// announceToReviewers posts on the shared reviewer channel in the desk's
// default locale.
func (e *Engine) announceToReviewers(ctx context.Context, out *Outcome, key string, params map[string]string, actions ...notify.Action) {
	loc := e.Config.Locale.Default
	e.send(ctx, out, notify.Message{
		Channel: notify.ChannelReviewers,
		Text:    e.text(loc, key, params),
		Actions: actions,
	})
}

// broadcastOffer posts an approved request to the fulfiller channel with a
// take control and remembers the message ref so a successful take can edit
// the offer out of the pool.
func (e *Engine) broadcastOffer(ctx context.Context, out *Outcome, req domain.Request) {
	loc := e.Config.Locale.Default
	msg := notify.Message{
		Channel: notify.ChannelFulfillers,
		Text: e.text(loc, "fulfiller.offer", map[string]string{
			"category": e.categoryName(ctx, req.CategoryID),
			"text":     req.Text,
		}),
		Actions: []notify.Action{e.action(loc, ActionTake, req.ID)},
	}
	ref := e.send(ctx, out, msg)
	if ref == "" {
		return
	}
	if err := e.Repo.SetBroadcastRef(ctx, req.ID, string(ref)); err != nil {
		e.Logger.Printf("notify: record broadcast ref for request %s: %v", req.ID, err)
	}
}

// staleSession ends a fulfiller flow whose underlying assignment no longer
// matches reality: the session is dropped and the actor told to start over.
func (e *Engine) staleSession(ctx context.Context, actor domain.Actor) Outcome {
	e.Sessions.Clear(actor.ID)
	out := outcomeConflict(ReasonStaleSession)
	e.tell(ctx, &out, actor, "error.stale_session", nil)
	return out
}
