package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CountOverdueCandidates counts tasks due before now whose status is not excluded.
func (r *Repository) CountOverdueCandidates(ctx context.Context, now time.Time, excluded []string) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx, `
		SELECT COUNT(*) FROM tasks
		WHERE due_date IS NOT NULL AND due_date < $1
		  AND NOT (status = ANY($2))`, now, excludedOrEmpty(excluded)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count overdue tasks: %w", err)
	}
	return count, nil
}

// FindOverdueCandidates pages through overdue tasks in id order so that
// offset paging is stable across pages.
func (r *Repository) FindOverdueCandidates(ctx context.Context, now time.Time, excluded []string, offset, limit int) ([]*OverdueTask, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, title, status, due_date, assigned_to_id
		FROM tasks
		WHERE due_date IS NOT NULL AND due_date < $1
		  AND NOT (status = ANY($2))
		ORDER BY id
		LIMIT $3 OFFSET $4`, now, excludedOrEmpty(excluded), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query overdue tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*OverdueTask
	for rows.Next() {
		var task OverdueTask
		if err := rows.Scan(&task.ID, &task.Title, &task.Status, &task.DueDate, &task.AssignedToID); err != nil {
			return nil, fmt.Errorf("scan overdue task: %w", err)
		}
		tasks = append(tasks, &task)
	}

	return tasks, rows.Err()
}

// FindUsersByRole returns the ids of users holding role, in id order.
func (r *Repository) FindUsersByRole(ctx context.Context, role string) ([]string, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT id FROM users WHERE role = $1 ORDER BY id`, role)
	if err != nil {
		return nil, fmt.Errorf("query users by role: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// FindUserContact loads the email address of a user.
func (r *Repository) FindUserContact(ctx context.Context, userID string) (*UserContact, error) {
	var contact UserContact
	err := r.db.Pool().QueryRow(ctx,
		`SELECT id, email, display_name FROM users WHERE id = $1`, userID,
	).Scan(&contact.ID, &contact.Email, &contact.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query user contact: %w", err)
	}
	return &contact, nil
}

// excludedOrEmpty keeps ANY($n) well-typed when nothing is excluded.
func excludedOrEmpty(excluded []string) []string {
	if excluded == nil {
		return []string{}
	}
	return excluded
}
