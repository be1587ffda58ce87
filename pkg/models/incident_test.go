package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncidentUnmarshalPreservesUnknownFields(t *testing.T) {
	raw := `{
		"id": "INC-1",
		"title": "Checkout latency",
		"affected_service": "payment-service",
		"severity": "high",
		"fingerprint": "abc123",
		"annotations": {"team": "payments"}
	}`

	var inc Incident
	require.NoError(t, json.Unmarshal([]byte(raw), &inc))

	assert.Equal(t, "INC-1", inc.ID)
	assert.Equal(t, SeverityHigh, inc.Severity)
	assert.Equal(t, "abc123", inc.Extra["fingerprint"])
	assert.Equal(t, map[string]any{"team": "payments"}, inc.Extra["annotations"])

	// Round trip keeps the unknown fields on the wire
	out, err := json.Marshal(inc)
	require.NoError(t, err)

	var echo map[string]any
	require.NoError(t, json.Unmarshal(out, &echo))
	assert.Equal(t, "abc123", echo["fingerprint"])
	assert.Equal(t, "payment-service", echo["affected_service"])
}

func TestIncidentUnmarshalLogVariants(t *testing.T) {
	raw := `{
		"id": "INC-2",
		"title": "x",
		"affected_service": "web",
		"logs": [{"message": "a"}],
		"loki_logs": [{"message": "b"}],
		"app_logs": [{"message": "c"}]
	}`

	var inc Incident
	require.NoError(t, json.Unmarshal([]byte(raw), &inc))

	assert.Len(t, inc.Logs, 1)
	assert.Len(t, inc.LokiLogs, 1)
	assert.Len(t, inc.AppLogs, 1)
}

func TestLogEntryUnmarshalBareString(t *testing.T) {
	raw := `{
		"id": "INC-3",
		"title": "x",
		"affected_service": "web",
		"logs": ["ERR timeout", "DB conn reset", {"level": "warn", "message": "structured"}]
	}`

	var inc Incident
	require.NoError(t, json.Unmarshal([]byte(raw), &inc))

	require.Len(t, inc.Logs, 3)
	assert.Equal(t, LogEntry{Message: "ERR timeout"}, inc.Logs[0])
	assert.Equal(t, LogEntry{Message: "DB conn reset"}, inc.Logs[1])
	assert.Equal(t, LogEntry{Level: "warn", Message: "structured"}, inc.Logs[2])
}

func TestLogEntryUnmarshalRejectsNonString(t *testing.T) {
	var e LogEntry
	assert.Error(t, json.Unmarshal([]byte(`42`), &e))
}

func TestMetricsRoundTripKeepsExtras(t *testing.T) {
	raw := `{"error_rate": 0.07, "latency_p95_ms": 950, "saturation": 0.4}`

	var m Metrics
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	assert.InDelta(t, 0.07, m.ErrorRate, 1e-9)
	assert.InDelta(t, 950, m.LatencyP95MS, 1e-9)
	assert.InDelta(t, 0.4, m.Extra["saturation"], 1e-9)

	out, err := json.Marshal(m)
	require.NoError(t, err)

	var echo map[string]float64
	require.NoError(t, json.Unmarshal(out, &echo))
	assert.InDelta(t, 0.4, echo["saturation"], 1e-9)
	assert.InDelta(t, 0.07, echo["error_rate"], 1e-9)
}

func TestSeverityIsValid(t *testing.T) {
	assert.True(t, SeverityLow.IsValid())
	assert.True(t, SeverityMedium.IsValid())
	assert.True(t, SeverityHigh.IsValid())
	assert.False(t, Severity("critical").IsValid())
	assert.False(t, Severity("").IsValid())
}

func TestGitCommitShortSHA(t *testing.T) {
	c := GitCommit{SHA: "0123456789abcdef"}
	assert.Equal(t, "01234567", c.ShortSHA())

	short := GitCommit{SHA: "ab12"}
	assert.Equal(t, "ab12", short.ShortSHA())
}
