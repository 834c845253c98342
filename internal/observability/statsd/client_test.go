package statsd

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizePrefix(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"  taskmanager.api  ": "taskmanager.api",
		"..jobs..":            "jobs",
		".":                   "",
		"":                    "",
	}
	for input, want := range tests {
		assert.Equal(t, want, sanitizePrefix(input), "input %q", input)
	}
}

func TestNormalizeMetricName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		" job/transition ": "job_transition",
		"job..duration":    "job.duration",
		"two  spaces":      "two__spaces",
		".reaper.":         "reaper",
	}
	for input, want := range tests {
		assert.Equal(t, want, normalizeMetricName(input), "input %q", input)
	}
}

func TestFormatTags(t *testing.T) {
	t.Parallel()

	global := map[string]string{"env": "prod", " service ": " taskmanager "}
	local := map[string]string{"result": " success ", "": "ignored", "env": "stage"}

	assert.Equal(t, "|#env:stage,result:success,service:taskmanager", formatTags(global, local))
	assert.Empty(t, formatTags(nil, nil))
}

func TestNilAndDisabledClientsDropMetrics(t *testing.T) {
	t.Parallel()

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
	assert.NotPanics(t, func() { nilClient.Count("job.transition", 1, nil) })
	require.NoError(t, nilClient.Close())

	client, err := NewClient(Config{Enabled: true, Address: "   "})
	require.NoError(t, err)
	assert.False(t, client.Enabled())
	assert.NotPanics(t, func() { client.Timing("job.duration", time.Second, nil) })
}

func TestNewClientDialError(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Enabled: true, Address: "bad address"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statsd dial")
}

func TestClientWritesLines(t *testing.T) {
	t.Parallel()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	client, err := NewClient(Config{
		Enabled:    true,
		Address:    pc.LocalAddr().String(),
		Prefix:     "taskmanager",
		GlobalTags: map[string]string{"env": "test"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.True(t, client.Enabled())

	read := func() string {
		buf := make([]byte, 512)
		require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, readErr := pc.ReadFrom(buf)
		require.NoError(t, readErr)
		return string(buf[:n])
	}

	client.Count("job.transition", 1, map[string]string{"result": "success"})
	assert.Equal(t, "taskmanager.job.transition:1|c|#env:test,result:success", read())

	client.Gauge("jobs.pending", 2.5, nil)
	assert.Equal(t, "taskmanager.jobs.pending:2.5|g|#env:test", read())

	client.Timing("job.duration", 1500*time.Microsecond, nil)
	assert.Equal(t, "taskmanager.job.duration:1.5|ms|#env:test", read())

	require.NoError(t, client.Close())
	assert.False(t, client.Enabled())
	require.NoError(t, client.Close())
}
