package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"deskline/internal/domain"
	"deskline/internal/events"
	"deskline/internal/repo"
)

// Administrative operations used by the API and CLI. Unlike interactions
// these return errors, not outcomes; transports map the typed ones to
// client responses.

func (e *Engine) CreateCategory(ctx context.Context, actorID, name, tag string) (domain.Category, error) {
	name = strings.TrimSpace(name)
	tag = strings.ToLower(strings.TrimSpace(tag))
	if name == "" {
		return domain.Category{}, ValidationError{Msg: "category name is required"}
	}
	if tag == "" {
		return domain.Category{}, ValidationError{Msg: "category tag is required"}
	}
	if _, err := e.Repo.GetCategoryByTag(ctx, tag); err == nil {
		return domain.Category{}, ConflictError{Msg: fmt.Sprintf("category tag %s already exists", tag)}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Category{}, err
	}
	cat := domain.Category{ID: uuid.New().String(), Name: name, Tag: tag, CreatedAt: e.now()}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Category{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCategory(ctx, tx, cat); err != nil {
		return domain.Category{}, fmt.Errorf("insert category: %w", err)
	}
	err = e.Events.Append(ctx, tx, events.CategoryCreated, "category", cat.ID, actorID,
		events.EventPayload{"name": name, "tag": tag})
	if err != nil {
		return domain.Category{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Category{}, err
	}
	return cat, nil
}

func (e *Engine) RenameCategory(ctx context.Context, actorID, id, name string) (domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Category{}, ValidationError{Msg: "category name is required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Category{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.RenameCategoryTx(ctx, tx, id, name); err != nil {
		return domain.Category{}, err
	}
	err = e.Events.Append(ctx, tx, events.CategoryRenamed, "category", id, actorID,
		events.EventPayload{"name": name})
	if err != nil {
		return domain.Category{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Category{}, err
	}
	return e.Repo.GetCategory(ctx, id)
}

// DeleteCategory removes a category; refused while any request references it.
func (e *Engine) DeleteCategory(ctx context.Context, actorID, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteCategoryTx(ctx, tx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return err
		}
		return ConflictError{Msg: err.Error()}
	}
	if err := e.Events.Append(ctx, tx, events.CategoryDeleted, "category", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// SeedCategories inserts the configured categories that are not present
// yet, keyed by tag. Run at startup; existing rows are left alone.
func (e *Engine) SeedCategories(ctx context.Context) error {
	for _, seed := range e.Config.Categories {
		_, err := e.Repo.GetCategoryByTag(ctx, seed.Tag)
		if err == nil {
			continue
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		cat := domain.Category{ID: uuid.New().String(), Name: seed.Name, Tag: seed.Tag, CreatedAt: e.now()}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := e.Repo.InsertCategory(ctx, tx, cat); err != nil {
			tx.Rollback()
			return fmt.Errorf("seed category %s: %w", seed.Tag, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) BanActor(ctx context.Context, actorID, targetID string) error {
	return e.setBanned(ctx, actorID, targetID, true, events.ActorBanned)
}

func (e *Engine) UnbanActor(ctx context.Context, actorID, targetID string) error {
	return e.setBanned(ctx, actorID, targetID, false, events.ActorUnbanned)
}

func (e *Engine) setBanned(ctx context.Context, actorID, targetID string, banned bool, evtType string) error {
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetBannedTx(ctx, tx, targetID, banned, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, "actor", targetID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// SetActorRole assigns a role outright. This is the bootstrap path for
// reviewers; the requester -> fulfiller promotion happens on first take.
func (e *Engine) SetActorRole(ctx context.Context, actorID, targetID, role string) error {
	switch role {
	case domain.RoleRequester, domain.RoleFulfiller, domain.RoleReviewer:
	default:
		return ValidationError{Msg: fmt.Sprintf("unknown role %q", role)}
	}
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, targetID, now); err != nil {
		return err
	}
	if err := e.Repo.SetRole(ctx, tx, targetID, role, now); err != nil {
		return err
	}
	err = e.Events.Append(ctx, tx, events.ActorPromoted, "actor", targetID, actorID,
		events.EventPayload{"role": role})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// CreateAPIKey mints a key bound to an actor and returns the plaintext
// once; only the hash is stored.
func (e *Engine) CreateAPIKey(ctx context.Context, actorID, name string) (string, domain.APIKey, error) {
	if actorID == "" {
		return "", domain.APIKey{}, ValidationError{Msg: "actor_id is required"}
	}
	if _, err := e.Repo.Ensure(ctx, actorID, e.now()); err != nil {
		return "", domain.APIKey{}, err
	}
	plaintext := "dk_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	key := domain.APIKey{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.now(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return "", domain.APIKey{}, err
	}
	return plaintext, key, nil
}

// StatusSummary counts requests per status for dashboards and the CLI.
func (e *Engine) StatusSummary(ctx context.Context) (map[string]int, error) {
	return e.Repo.CountRequestsByStatus(ctx)
}
