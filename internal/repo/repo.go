package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"deskline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")

	// ErrStaleStatus means a guarded update matched zero rows: the row's
	// status changed between the caller's read and this write.
	ErrStaleStatus = errors.New("stale status")
)

const requestColumns = `id,requester_id,category_id,text,status,fulfiller_id,answer_text,reviewer_comment,broadcast_ref,created_at,updated_at`

type requestScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row requestScanner) (domain.Request, error) {
	var r domain.Request
	var fulfillerID, answerText, reviewerComment, broadcastRef sql.NullString
	err := row.Scan(&r.ID, &r.RequesterID, &r.CategoryID, &r.Text, &r.Status,
		&fulfillerID, &answerText, &reviewerComment, &broadcastRef, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	if fulfillerID.Valid {
		r.FulfillerID = &fulfillerID.String
	}
	if answerText.Valid {
		r.AnswerText = &answerText.String
	}
	if reviewerComment.Valid {
		r.ReviewerComment = &reviewerComment.String
	}
	if broadcastRef.Valid {
		r.BroadcastRef = &broadcastRef.String
	}
	return r, nil
}

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO requests(`+requestColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		req.ID, req.RequesterID, req.CategoryID, req.Text, req.Status,
		nullableStringPtr(req.FulfillerID), nullableStringPtr(req.AnswerText),
		nullableStringPtr(req.ReviewerComment), nullableStringPtr(req.BroadcastRef),
		req.CreatedAt, req.UpdatedAt)
	return err
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return scanRequest(r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id))
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.Request, error) {
	return scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id))
}

type RequestFilters struct {
	Status          string
	RequesterID     string
	FulfillerID     string
	CategoryID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.Request, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.RequesterID != "" {
		clauses = append(clauses, "requester_id=?")
		args = append(args, f.RequesterID)
	}
	if f.FulfillerID != "" {
		clauses = append(clauses, "fulfiller_id=?")
		args = append(args, f.FulfillerID)
	}
	if f.CategoryID != "" {
		clauses = append(clauses, "category_id=?")
		args = append(args, f.CategoryID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + requestColumns + ` FROM requests ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// OpenPool lists approved requests oldest-first, the order offers are
// broadcast in.
func (r Repo) OpenPool(ctx context.Context, limit int) ([]domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE status=? ORDER BY created_at ASC, id ASC`
	args := []any{domain.StatusApproved}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// Every transition below is a single compare-expected-status-then-set
// write. Zero affected rows means another handler won the race; callers
// get ErrStaleStatus, never a blind overwrite.

// ApproveRequestTx moves pending -> approved.
func (r Repo) ApproveRequestTx(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET status=?, updated_at=? WHERE id=? AND status=?`,
		domain.StatusApproved, now, id, domain.StatusPending)
	return guard(res, err)
}

// DeclineRequestTx moves pending -> declined recording the reviewer's reason.
func (r Repo) DeclineRequestTx(ctx context.Context, tx *sql.Tx, id, comment, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET status=?, reviewer_comment=?, updated_at=? WHERE id=? AND status=?`,
		domain.StatusDeclined, nullable(comment), now, id, domain.StatusPending)
	return guard(res, err)
}

// AssignRequestTx moves approved -> assigned and binds the fulfiller.
func (r Repo) AssignRequestTx(ctx context.Context, tx *sql.Tx, id, fulfillerID, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET status=?, fulfiller_id=?, updated_at=? WHERE id=? AND status=?`,
		domain.StatusAssigned, fulfillerID, now, id, domain.StatusApproved)
	return guard(res, err)
}

// ReleaseAssignmentTx moves assigned -> approved, clearing the fulfiller.
// Guarded on the holder so a reassigned request cannot be released by a
// previous fulfiller.
func (r Repo) ReleaseAssignmentTx(ctx context.Context, tx *sql.Tx, id, fulfillerID, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET status=?, fulfiller_id=NULL, updated_at=? WHERE id=? AND status=? AND fulfiller_id=?`,
		domain.StatusApproved, now, id, domain.StatusAssigned, fulfillerID)
	return guard(res, err)
}

// SubmitAnswerTx moves assigned -> answered with the fulfiller's text.
func (r Repo) SubmitAnswerTx(ctx context.Context, tx *sql.Tx, id, fulfillerID, answer, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET status=?, answer_text=?, updated_at=? WHERE id=? AND status=? AND fulfiller_id=?`,
		domain.StatusAnswered, answer, now, id, domain.StatusAssigned, fulfillerID)
	return guard(res, err)
}

// CloseRequestTx moves answered -> closed.
func (r Repo) CloseRequestTx(ctx context.Context, tx *sql.Tx, id, comment, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET status=?, reviewer_comment=?, updated_at=? WHERE id=? AND status=?`,
		domain.StatusClosed, nullable(comment), now, id, domain.StatusAnswered)
	return guard(res, err)
}

// ReopenAnsweredTx moves answered -> approved: the answer was declined, the
// request re-enters the open pool with fulfiller and draft answer cleared.
func (r Repo) ReopenAnsweredTx(ctx context.Context, tx *sql.Tx, id, comment, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET status=?, fulfiller_id=NULL, answer_text=NULL, reviewer_comment=?, updated_at=? WHERE id=? AND status=?`,
		domain.StatusApproved, nullable(comment), now, id, domain.StatusAnswered)
	return guard(res, err)
}

// SetBroadcastRef records the fulfiller-channel offer message so a later
// take can edit it.
func (r Repo) SetBroadcastRef(ctx context.Context, id, ref string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE requests SET broadcast_ref=? WHERE id=?`, nullable(ref), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountRequestsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entID.Valid {
			e.EntityID = entID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func guard(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleStatus
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
