package repo

import (
	"context"
	"database/sql"

	"deskline/internal/domain"
)

const actorColumns = `id,role,banned,current_assignment_id,locale,created_at,updated_at`

func scanActor(row requestScanner) (domain.Actor, error) {
	var a domain.Actor
	var banned int
	var assignment, locale sql.NullString
	err := row.Scan(&a.ID, &a.Role, &banned, &assignment, &locale, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Banned = banned != 0
	if assignment.Valid {
		a.CurrentAssignmentID = &assignment.String
	}
	if locale.Valid {
		a.Locale = locale.String
	}
	return a, nil
}

// EnsureActor inserts the actor with the requester role if unseen.
func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id,role,banned,created_at,updated_at) VALUES (?,?,0,?,?)`,
		actorID, domain.RoleRequester, now, now)
	return err
}

// Ensure is the non-tx convenience used by entry points.
func (r Repo) Ensure(ctx context.Context, actorID, now string) (domain.Actor, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	if err := r.EnsureActor(ctx, tx, actorID, now); err != nil {
		return domain.Actor{}, err
	}
	a, err := r.GetActorTx(ctx, tx, actorID)
	if err != nil {
		return domain.Actor{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	return scanActor(r.DB.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE id=?`, id))
}

func (r Repo) GetActorTx(ctx context.Context, tx *sql.Tx, id string) (domain.Actor, error) {
	return scanActor(tx.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE id=?`, id))
}

func (r Repo) ListActors(ctx context.Context, role string) ([]domain.Actor, error) {
	query := `SELECT ` + actorColumns + ` FROM actors`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ClaimAssignmentTx sets the actor's back-reference, guarded on it being
// free. Zero rows means the actor already holds an assignment.
func (r Repo) ClaimAssignmentTx(ctx context.Context, tx *sql.Tx, actorID, requestID, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE actors SET current_assignment_id=?, updated_at=? WHERE id=? AND current_assignment_id IS NULL`,
		requestID, now, actorID)
	return guard(res, err)
}

// ClearAssignmentTx releases the back-reference, guarded on it pointing at
// the given request.
func (r Repo) ClearAssignmentTx(ctx context.Context, tx *sql.Tx, actorID, requestID, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE actors SET current_assignment_id=NULL, updated_at=? WHERE id=? AND current_assignment_id=?`,
		now, actorID, requestID)
	return guard(res, err)
}

// PromoteToFulfillerTx upgrades a requester on first successful take.
// Promotion is monotonic; reviewers are left alone.
func (r Repo) PromoteToFulfillerTx(ctx context.Context, tx *sql.Tx, actorID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE actors SET role=?, updated_at=? WHERE id=? AND role=?`,
		domain.RoleFulfiller, now, actorID, domain.RoleRequester)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r Repo) SetRole(ctx context.Context, tx *sql.Tx, actorID, role, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE actors SET role=?, updated_at=? WHERE id=?`, role, now, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetBannedTx(ctx context.Context, tx *sql.Tx, actorID string, banned bool, now string) error {
	v := 0
	if banned {
		v = 1
	}
	res, err := tx.ExecContext(ctx, `UPDATE actors SET banned=?, updated_at=? WHERE id=?`, v, now, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetLocale(ctx context.Context, actorID, locale, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE actors SET locale=?, updated_at=? WHERE id=?`, nullable(locale), now, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
