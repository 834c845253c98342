package model

import "time"

// TaskState is the workflow state of a task.
type TaskState string

const (
	TaskStateNew             TaskState = "new_task"
	TaskStateInDevelopment   TaskState = "in_development"
	TaskStateInQA            TaskState = "in_qa"
	TaskStateInCodeReview    TaskState = "in_code_review"
	TaskStateReadyForRelease TaskState = "ready_for_release"
	TaskStateReleased        TaskState = "released"
	TaskStateArchived        TaskState = "archived"
)

// Valid returns true if the state is one of the known task states.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStateNew, TaskStateInDevelopment, TaskStateInQA, TaskStateInCodeReview,
		TaskStateReadyForRelease, TaskStateReleased, TaskStateArchived:
		return true
	default:
		return false
	}
}

// UserRole is the role a user holds on the board.
type UserRole string

const (
	UserRoleDeveloper UserRole = "developer"
	UserRoleManager   UserRole = "manager"
	UserRoleAdmin     UserRole = "admin"
)

// User is the subset of account data the job system reads.
type User struct {
	ID        int64    `json:"id"         db:"id"`
	Username  string   `json:"username"   db:"username"`
	Email     string   `json:"email"      db:"email"`
	FirstName string   `json:"first_name" db:"first_name"`
	LastName  string   `json:"last_name"  db:"last_name"`
	Role      UserRole `json:"role"       db:"role"`
}

// FullName returns "First Last", falling back to the username.
func (u User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}

// Tag labels tasks.
type Tag struct {
	ID    int64  `json:"id"    db:"id"`
	Title string `json:"title" db:"title"`
}

// Task is a unit of tracked work with an author and an executor.
type Task struct {
	ID          int64      `json:"id"                 db:"id"`
	Name        string     `json:"name"               db:"name"`
	Description string     `json:"description"        db:"description"`
	State       TaskState  `json:"state"              db:"state"`
	Priority    int        `json:"priority"           db:"priority"`
	Deadline    *time.Time `json:"deadline,omitempty" db:"deadline"`
	Author      User       `json:"author"`
	Executor    User       `json:"executor"`
	Tags        []Tag      `json:"tags"`
	CreatedAt   time.Time  `json:"created_at"         db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"         db:"updated_at"`
}

// Email is a rendered message ready for the mail transport.
type Email struct {
	Subject    string   `json:"subject"`
	HTMLBody   string   `json:"html_body"`
	Recipients []string `json:"recipients"`
}
