// Package devseed loads a small set of users, tags and tasks into a
// development database so that assignment notifications can be exercised
// end to end.
package devseed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type seedUser struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Role      string
	Staff     bool
}

type seedTask struct {
	Name        string
	Description string
	Author      string
	Executor    string
	State       string
	Priority    int
	DeadlineIn  time.Duration
	Tags        []string
}

func defaultUsers() []seedUser {
	return []seedUser{
		{Username: "dev-admin", Email: "admin@example.com", FirstName: "Dana", LastName: "Admin", Role: "admin", Staff: true},
		{Username: "dev-manager", Email: "manager@example.com", FirstName: "Max", LastName: "Manager", Role: "manager"},
		{Username: "dev-engineer", Email: "engineer@example.com", FirstName: "Eli", LastName: "Engineer", Role: "developer"},
	}
}

func defaultTasks() []seedTask {
	return []seedTask{
		{
			Name:        "Wire up release pipeline",
			Description: "Add the deploy stage and smoke checks.",
			Author:      "dev-manager",
			Executor:    "dev-engineer",
			State:       "in_development",
			Priority:    2,
			DeadlineIn:  72 * time.Hour,
			Tags:        []string{"backend", "release"},
		},
		{
			Name:        "Review onboarding copy",
			Description: "Proofread the welcome email.",
			Author:      "dev-admin",
			Executor:    "dev-manager",
			State:       "new_task",
			Priority:    1,
			Tags:        []string{"docs"},
		},
	}
}

// Result lists the ids of the seeded tasks by name.
type Result struct {
	Tasks map[string]int64
}

// Run upserts the fixture users, tags and tasks. It is safe to run
// repeatedly: existing rows are reused.
func Run(ctx context.Context, db *sql.DB, logger *slog.Logger) (*Result, error) {
	if db == nil {
		return nil, errors.New("devseed requires a database connection")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	users := make(map[string]int64)
	for _, u := range defaultUsers() {
		id, uerr := upsertUser(ctx, tx, u)
		if uerr != nil {
			return nil, uerr
		}
		users[u.Username] = id
		if logger != nil {
			logger.InfoContext(ctx, "seeded user", "username", u.Username, "id", id)
		}
	}

	res := &Result{Tasks: make(map[string]int64)}
	for _, task := range defaultTasks() {
		id, created, terr := ensureTask(ctx, tx, task, users)
		if terr != nil {
			return nil, terr
		}
		if err := tagTask(ctx, tx, id, task.Tags); err != nil {
			return nil, err
		}
		res.Tasks[task.Name] = id
		if logger != nil {
			msg := "task already exists"
			if created {
				msg = "created task"
			}
			logger.InfoContext(ctx, msg, "name", task.Name, "id", id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit seed tx: %w", err)
	}
	return res, nil
}

func upsertUser(ctx context.Context, tx *sql.Tx, u seedUser) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO users (username, email, first_name, last_name, role, is_staff)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (username) DO UPDATE
		  SET email = EXCLUDED.email, first_name = EXCLUDED.first_name,
		      last_name = EXCLUDED.last_name, role = EXCLUDED.role, is_staff = EXCLUDED.is_staff
		RETURNING id`,
		u.Username, u.Email, u.FirstName, u.LastName, u.Role, u.Staff,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("seed user %s: %w", u.Username, err)
	}
	return id, nil
}

func ensureTask(ctx context.Context, tx *sql.Tx, task seedTask, users map[string]int64) (int64, bool, error) {
	author, ok := users[task.Author]
	if !ok {
		return 0, false, fmt.Errorf("task %q: unknown author %q", task.Name, task.Author)
	}
	executor, ok := users[task.Executor]
	if !ok {
		return 0, false, fmt.Errorf("task %q: unknown executor %q", task.Name, task.Executor)
	}

	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM tasks WHERE name = $1 AND author_id = $2 ORDER BY id LIMIT 1`,
		task.Name, author,
	).Scan(&id)
	switch {
	case err == nil:
		return id, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("lookup task %q: %w", task.Name, err)
	}

	var deadline sql.NullTime
	if task.DeadlineIn > 0 {
		deadline = sql.NullTime{Time: time.Now().Add(task.DeadlineIn).UTC(), Valid: true}
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tasks (name, description, author_id, executor_id, state, priority, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		task.Name, task.Description, author, executor, task.State, task.Priority, deadline,
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("seed task %q: %w", task.Name, err)
	}
	return id, true, nil
}

func tagTask(ctx context.Context, tx *sql.Tx, taskID int64, titles []string) error {
	for _, title := range titles {
		var tagID int64
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO tags (title) VALUES ($1)
			ON CONFLICT (title) DO UPDATE SET title = EXCLUDED.title
			RETURNING id`, title,
		).Scan(&tagID); err != nil {
			return fmt.Errorf("seed tag %s: %w", title, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_tags (task_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			taskID, tagID,
		); err != nil {
			return fmt.Errorf("tag task %d with %s: %w", taskID, title, err)
		}
	}
	return nil
}
