package repo

import (
	"context"
	"database/sql"
	"fmt"

	"deskline/internal/domain"
)

func (r Repo) InsertCategory(ctx context.Context, tx *sql.Tx, c domain.Category) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO categories(id,name,tag,created_at) VALUES (?,?,?,?)`,
		c.ID, c.Name, c.Tag, c.CreatedAt)
	return err
}

func (r Repo) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	var c domain.Category
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,tag,created_at FROM categories WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &c.Tag, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) GetCategoryByTag(ctx context.Context, tag string) (domain.Category, error) {
	var c domain.Category
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,tag,created_at FROM categories WHERE tag=?`, tag).
		Scan(&c.ID, &c.Name, &c.Tag, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,tag,created_at FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Tag, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) RenameCategoryTx(ctx context.Context, tx *sql.Tx, id, name string) error {
	res, err := tx.ExecContext(ctx, `UPDATE categories SET name=? WHERE id=?`, name, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCategoryTx removes a category. Deletion is restricted while any
// request references it.
func (r Repo) DeleteCategoryTx(ctx context.Context, tx *sql.Tx, id string) error {
	var refs int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM requests WHERE category_id=?`, id).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("category referenced by %d requests", refs)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
