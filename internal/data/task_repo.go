package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/target/taskmanager-api/internal/core"
	"github.com/target/taskmanager-api/internal/data/pgxutil"
	"github.com/target/taskmanager-api/internal/domain/model"
)

// TaskRepo reads tasks with their author, executor and tags.
type TaskRepo struct {
	DB *sql.DB
}

var _ core.TaskRepository = (*TaskRepo)(nil)

// NewTaskRepo creates a TaskRepo.
func NewTaskRepo(db *sql.DB) *TaskRepo {
	return &TaskRepo{DB: db}
}

const taskSelectSQL = `
  SELECT
    t.id, t.name, t.description, t.state, t.priority, t.deadline, t.created_at, t.updated_at,
    a.id, a.username, a.email, a.first_name, a.last_name, a.role,
    e.id, e.username, e.email, e.first_name, e.last_name, e.role
  FROM tasks t
  JOIN users a ON a.id = t.author_id
  JOIN users e ON e.id = t.executor_id
  WHERE t.id = $1`

const taskTagsSQL = `
  SELECT g.id, g.title
  FROM task_tags tt
  JOIN tags g ON g.id = tt.tag_id
  WHERE tt.task_id = $1
  ORDER BY g.title`

// GetByID loads a task. Unknown ids return ErrTaskNotFound.
func (r *TaskRepo) GetByID(ctx context.Context, id int64) (*model.Task, error) {
	var task *model.Task
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		t, err := scanTask(conn.QueryRow(ctx, taskSelectSQL, id))
		if err != nil {
			return err
		}

		rows, err := conn.Query(ctx, taskTagsSQL, id)
		if err != nil {
			return fmt.Errorf("query task tags: %w", err)
		}
		tags, err := pgx.CollectRows(rows, pgx.RowToStructByPos[model.Tag])
		if err != nil {
			return fmt.Errorf("collect task tags: %w", err)
		}
		t.Tags = tags
		task = t
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return task, nil
}

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	if err := row.Scan(
		&t.ID, &t.Name, &t.Description, &t.State, &t.Priority, &t.Deadline, &t.CreatedAt, &t.UpdatedAt,
		&t.Author.ID, &t.Author.Username, &t.Author.Email, &t.Author.FirstName, &t.Author.LastName, &t.Author.Role,
		&t.Executor.ID, &t.Executor.Username, &t.Executor.Email,
		&t.Executor.FirstName, &t.Executor.LastName, &t.Executor.Role,
	); err != nil {
		return nil, err
	}
	return &t, nil
}
