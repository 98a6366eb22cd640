package litestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/lalithlochan/taskbell/internal/db"
)

// overdueFilter builds the shared WHERE clause of the overdue queries.
func overdueFilter(now time.Time, excluded []string) (string, []any, error) {
	where := "due_date IS NOT NULL AND due_date < ?"
	args := []any{formatTime(now)}
	if len(excluded) == 0 {
		return where, args, nil
	}

	clause, inArgs, err := sqlx.In(" AND status NOT IN (?)", excluded)
	if err != nil {
		return "", nil, fmt.Errorf("building status filter: %w", err)
	}
	return where + clause, append(args, inArgs...), nil
}

// CountOverdueCandidates counts tasks due before now with a non-excluded status.
func (s *Store) CountOverdueCandidates(ctx context.Context, now time.Time, excluded []string) (int, error) {
	where, args, err := overdueFilter(now, excluded)
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind("SELECT COUNT(*) FROM tasks WHERE "+where), args...); err != nil {
		return 0, fmt.Errorf("counting overdue tasks: %w", err)
	}
	return count, nil
}

// FindOverdueCandidates returns one page of overdue tasks in id order.
func (s *Store) FindOverdueCandidates(ctx context.Context, now time.Time, excluded []string, offset, limit int) ([]*db.OverdueTask, error) {
	where, args, err := overdueFilter(now, excluded)
	if err != nil {
		return nil, err
	}
	query := s.db.Rebind("SELECT id, title, status, due_date, assigned_to_id FROM tasks WHERE " +
		where + " ORDER BY id LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying overdue tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*db.OverdueTask
	for rows.Next() {
		var (
			task db.OverdueTask
			due  nullTime
		)
		if err := rows.Scan(&task.ID, &task.Title, &task.Status, &due, &task.AssignedToID); err != nil {
			return nil, fmt.Errorf("scanning overdue task: %w", err)
		}
		task.DueDate = due.Time
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

// FindUsersByRole returns user ids holding role, in id order.
func (s *Store) FindUsersByRole(ctx context.Context, role string) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, "SELECT id FROM users WHERE role = ? ORDER BY id", role); err != nil {
		return nil, fmt.Errorf("querying users by role: %w", err)
	}
	return ids, nil
}

// FindUserContact loads the email address of a user.
func (s *Store) FindUserContact(ctx context.Context, userID string) (*db.UserContact, error) {
	var contact db.UserContact
	err := s.db.QueryRowxContext(ctx,
		"SELECT id, email, display_name FROM users WHERE id = ?", userID,
	).Scan(&contact.ID, &contact.Email, &contact.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying user %s: %w", userID, err)
	}
	return &contact, nil
}

// User is a row of the local users table.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Role        string
}

// UpsertUser writes a user into the local directory. The task application
// owns users in a shared deployment; single-node setups seed them here.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, role) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email, display_name = excluded.display_name, role = excluded.role`,
		u.ID, u.Email, u.DisplayName, u.Role,
	)
	if err != nil {
		return fmt.Errorf("upserting user %s: %w", u.ID, err)
	}
	return nil
}

// UpsertTask writes a task into the local directory.
func (s *Store) UpsertTask(ctx context.Context, t db.OverdueTask) error {
	var due any
	if !t.DueDate.IsZero() {
		due = formatTime(t.DueDate)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, status, due_date, assigned_to_id) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title, status = excluded.status,
			due_date = excluded.due_date, assigned_to_id = excluded.assigned_to_id`,
		t.ID, t.Title, t.Status, due, t.AssignedToID,
	)
	if err != nil {
		return fmt.Errorf("upserting task %s: %w", t.ID, err)
	}
	return nil
}
