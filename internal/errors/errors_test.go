package errors

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "error without cause",
			err:  &AppError{Code: ErrCodeNotFound, Message: "job not found"},
			want: "job not found",
		},
		{
			name: "error with cause",
			err: &AppError{
				Code:    ErrCodeInternal,
				Message: "submit job",
				Cause:   errors.New("connection refused"),
			},
			want: "submit job: connection refused",
		},
		{
			name: "error with fields",
			err: &AppError{
				Code:    ErrCodeValidation,
				Message: "invalid parameters",
				Fields: map[string][]string{
					"seconds": {"must be >= 0"},
					"extra":   {"unknown field"},
				},
			},
			want: "invalid parameters (extra: unknown field, seconds: must be >= 0)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("AppError.Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := fmt.Errorf("outer: %w", Wrap(cause, ErrCodeInternal, "wrapped"))

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
	if !IsInternal(err) {
		t.Errorf("IsInternal() = false, want true")
	}
}

func TestWrap_Nil(t *testing.T) {
	if got := Wrap(nil, ErrCodeInternal, "x"); got != nil {
		t.Errorf("Wrap(nil) = %v, want nil", got)
	}
}

func TestValidationField(t *testing.T) {
	err := ValidationField("seconds", "A valid integer is required.")
	if !IsValidation(err) {
		t.Fatalf("IsValidation() = false, want true")
	}
	want := map[string][]string{"seconds": {"A valid integer is required."}}
	if got := GetFields(err); !reflect.DeepEqual(got, want) {
		t.Errorf("GetFields() = %v, want %v", got, want)
	}
}

func TestFieldSet(t *testing.T) {
	var empty = FieldSet{}
	if err := empty.Err(); err != nil {
		t.Errorf("empty FieldSet.Err() = %v, want nil", err)
	}

	set := FieldSet{}
	set.Add("subject", "This field is required.")
	set.Add("recipients", "This list may not be empty.")
	set.Add("subject", "Ensure this field has no more than 255 characters.")

	err := set.Err()
	if !IsValidation(err) {
		t.Fatalf("IsValidation() = false, want true")
	}
	fields := GetFields(err)
	if len(fields["subject"]) != 2 {
		t.Errorf("subject messages = %v, want 2 entries", fields["subject"])
	}
	if len(fields["recipients"]) != 1 {
		t.Errorf("recipients messages = %v, want 1 entry", fields["recipients"])
	}
}

func TestCheckers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", NotFound("x"), IsNotFound},
		{"not found formatted", NotFoundf("task %d", 7), IsNotFound},
		{"conflict", Conflict("x"), IsConflict},
		{"validation", Validationf("bad %s", "kind"), IsValidation},
		{"internal", Internal("x"), IsInternal},
		{"timeout", Wrapf(errors.New("slow"), ErrCodeTimeout, "op %s", "a"), IsTimeout},
		{"canceled", Wrap(errors.New("stop"), ErrCodeCanceled, "stopped"), IsCanceled},
		{"foreign key", &AppError{Code: ErrCodeForeignKey}, IsForeignKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("checker returned false for %v", tt.err)
			}
		})
	}

	if GetCode(errors.New("plain")) != "" {
		t.Errorf("GetCode(plain) should be empty")
	}
	if GetFields(errors.New("plain")) != nil {
		t.Errorf("GetFields(plain) should be nil")
	}
}
