package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobKind_Valid(t *testing.T) {
	assert.True(t, JobKindCountdown.Valid())
	assert.True(t, JobKindAssignNotification.Valid())
	assert.True(t, JobKindHTMLEmail.Valid())
	assert.False(t, JobKind("").Valid())
	assert.False(t, JobKind("Countdown").Valid())
	assert.False(t, JobKind("count down").Valid())
	assert.False(t, JobKind("9lives").Valid())
}

func TestJobKind_UnmarshalText(t *testing.T) {
	var k JobKind
	require.NoError(t, k.UnmarshalText([]byte("  Send_HTML_Email ")))
	assert.Equal(t, JobKindHTMLEmail, k)

	err := k.UnmarshalText([]byte("bad kind"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JobKind")
}

func TestJobStatus_ValidAndTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		valid    bool
		terminal bool
	}{
		{JobStatusPending, true, false},
		{JobStatusStarted, true, false},
		{JobStatusSuccess, true, true},
		{JobStatusFailure, true, true},
		{JobStatusUnknown, false, false},
		{JobStatus("pending"), false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.status.Valid())
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}

func TestCreateJobRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateJobRequest
		wantErr string
	}{
		{
			name: "valid",
			req:  CreateJobRequest{Kind: JobKindCountdown, Params: json.RawMessage(`{"seconds":1}`)},
		},
		{
			name:    "invalid kind",
			req:     CreateJobRequest{Kind: "", Params: json.RawMessage(`{}`)},
			wantErr: "invalid job kind",
		},
		{
			name:    "missing params",
			req:     CreateJobRequest{Kind: JobKindCountdown},
			wantErr: "params are required",
		},
		{
			name:    "malformed params",
			req:     CreateJobRequest{Kind: JobKindCountdown, Params: json.RawMessage(`{"seconds":`)},
			wantErr: "params must be valid JSON",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestJobView_JSONOmitsTransportFields(t *testing.T) {
	result := "test_report-abc.data"
	v := JobView{
		TaskID:   "abc",
		Status:   JobStatusSuccess,
		Result:   &result,
		Location: "http://localhost:8080/media/test_report-abc.data",
		Ready:    true,
	}
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"task_id":"abc","status":"SUCCESS","result":"test_report-abc.data"}`, string(raw))
	assert.True(t, v.Found())
	assert.False(t, (&JobView{TaskID: "x", Status: JobStatusUnknown}).Found())
}

func TestUser_FullName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", User{FirstName: "Ada", LastName: "Lovelace", Username: "ada"}.FullName())
	assert.Equal(t, "Ada", User{FirstName: "Ada", Username: "ada"}.FullName())
	assert.Equal(t, "ada", User{Username: "ada"}.FullName())
}

func TestTaskState_Valid(t *testing.T) {
	assert.True(t, TaskStateNew.Valid())
	assert.True(t, TaskStateArchived.Valid())
	assert.False(t, TaskState("done").Valid())
}
