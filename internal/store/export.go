package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/cbt/internal/model"
)

// ExportRows returns one row per graded attempt at an exam, joined with the
// student's account. Scores and positions are filled in by the caller.
func (s *Store) ExportRows(ctx context.Context, examID int64) ([]model.StudentResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.student_id, COALESCE(u.username, ''), COALESCE(u.display_name, ''),
			a.attempt_number, a.status, a.start_time, a.submitted_at, a.pending_manual_grading
		 FROM attempts a LEFT JOIN users u ON u.id = a.student_id
		 WHERE a.exam_id = ? AND a.status = 'graded'
		 ORDER BY a.student_id, a.attempt_number`, examID,
	)
	if err != nil {
		return nil, fmt.Errorf("export exam %d: %w", examID, err)
	}
	defer rows.Close()

	var results []model.StudentResult
	for rows.Next() {
		var r model.StudentResult
		if err := rows.Scan(&r.AttemptID, &r.StudentID, &r.Username, &r.DisplayName,
			&r.AttemptNumber, &r.Status, &r.StartedAt, &r.SubmittedAt, &r.Pending); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
