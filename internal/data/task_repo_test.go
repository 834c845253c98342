package data

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/taskmanager-api/internal/domain/model"
	"github.com/target/taskmanager-api/internal/testutil"
)

func TestTaskRepo_GetByID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	testutil.SkipIfNoTestDB(t)

	t.Run("loads author executor and tags", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			author := testutil.SeedUser(t, db, "alice", "alice@example.com")
			executor := testutil.SeedUser(t, db, "bob", "bob@example.com")
			id := testutil.SeedTask(t, db, "Ship it", author, executor, "release", "backend")

			repo := NewTaskRepo(db)
			task, err := repo.GetByID(context.Background(), id)
			require.NoError(t, err)

			assert.Equal(t, "Ship it", task.Name)
			assert.Equal(t, model.TaskStateNew, task.State)
			assert.Equal(t, "alice", task.Author.Username)
			assert.Equal(t, "bob@example.com", task.Executor.Email)
			assert.Equal(t, "Bob Tester", task.Executor.FullName())
			require.Len(t, task.Tags, 2)
			assert.Equal(t, "backend", task.Tags[0].Title)
			assert.Equal(t, "release", task.Tags[1].Title)
		})
	})

	t.Run("task without tags", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			u := testutil.SeedUser(t, db, "carol", "carol@example.com")
			id := testutil.SeedTask(t, db, "Solo", u, u)

			task, err := NewTaskRepo(db).GetByID(context.Background(), id)
			require.NoError(t, err)
			assert.Empty(t, task.Tags)
		})
	})

	t.Run("unknown id", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			_, err := NewTaskRepo(db).GetByID(context.Background(), 999999)
			assert.ErrorIs(t, err, ErrTaskNotFound)
		})
	})
}
