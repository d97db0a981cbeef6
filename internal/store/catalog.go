package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pavelanni/cbt/internal/model"
)

// ImportCatalog upserts subjects, terms and classrooms by id.
func (s *Store) ImportCatalog(ctx context.Context, c model.Catalog) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, sub := range c.Subjects {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO subjects (id, name) VALUES (?, ?)
				 ON CONFLICT(id) DO UPDATE SET name = excluded.name`, sub.ID, sub.Name,
			); err != nil {
				return err
			}
		}
		for _, t := range c.Terms {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO terms (id, session, name) VALUES (?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET session = excluded.session, name = excluded.name`,
				t.ID, t.Session, t.Name,
			); err != nil {
				return err
			}
		}
		for _, cl := range c.Classrooms {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO classrooms (id, name) VALUES (?, ?)
				 ON CONFLICT(id) DO UPDATE SET name = excluded.name`, cl.ID, cl.Name,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetTerm returns a term by ID.
func (s *Store) GetTerm(ctx context.Context, id int64) (model.Term, error) {
	var t model.Term
	err := s.db.QueryRowContext(ctx, `SELECT id, session, name FROM terms WHERE id = ?`, id).
		Scan(&t.ID, &t.Session, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return t, model.ErrNotFound
	}
	return t, err
}

// ListTerms returns the terms of an academic session in id order.
func (s *Store) ListTerms(ctx context.Context, session string) ([]model.Term, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session, name FROM terms WHERE session = ? ORDER BY id`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var terms []model.Term
	for rows.Next() {
		var t model.Term
		if err := rows.Scan(&t.ID, &t.Session, &t.Name); err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	return terms, rows.Err()
}
