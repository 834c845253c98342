package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/target/taskmanager-api/internal/errors"
)

type smtpError struct{}

func (*smtpError) Error() string { return "smtp: 554 rejected" }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "canceled", err: fmt.Errorf("run: %w", context.Canceled), want: "canceled"},
		{name: "deadline", err: context.DeadlineExceeded, want: "deadline_exceeded"},
		{name: "app validation", err: apperrors.ValidationField("seconds", "must be >= 0"), want: "app_validation"},
		{name: "wrapped concrete type", err: fmt.Errorf("send: %w", &smtpError{}), want: "errors_smtperror"},
		{name: "plain", err: errors.New("x"), want: "errors_errorstring"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
