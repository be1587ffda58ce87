// Package models defines the wire-level types flowing through the pipeline:
// incidents in, plans through approval, resolutions out.
package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// Severity classifies incident impact.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IsValid checks if the severity is a known level.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	default:
		return false
	}
}

// IncidentStatus tracks an incident through the pipeline.
type IncidentStatus string

const (
	IncidentStatusNew      IncidentStatus = "new"
	IncidentStatusTriaged  IncidentStatus = "triaged"
	IncidentStatusResolved IncidentStatus = "resolved"
	IncidentStatusSkipped  IncidentStatus = "skipped"
	IncidentStatusFailed   IncidentStatus = "failed"
)

// LogEntry is a single log line attached to an incident. Timestamps stay
// strings on the wire: sources disagree on precision and some emit raw
// nanosecond epochs that clients convert before merging.
type LogEntry struct {
	Timestamp string `json:"timestamp,omitempty"`
	Level     string `json:"level,omitempty"`
	Message   string `json:"message"`
	Source    string `json:"source,omitempty"`
	Pod       string `json:"pod,omitempty"`
	Container string `json:"container,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// UnmarshalJSON accepts a structured entry or a bare string. Simple
// producers publish log lines as plain strings; those become entries
// with only a message, leveled during normalization.
func (e *LogEntry) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var msg string
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return err
		}
		*e = LogEntry{Message: msg}
		return nil
	}

	type logEntryAlias LogEntry
	var entry logEntryAlias
	if err := json.Unmarshal(data, &entry); err != nil {
		return err
	}
	*e = LogEntry(entry)
	return nil
}

// K8sEvent is a Kubernetes event attached to an incident.
type K8sEvent struct {
	Type           string `json:"type,omitempty"`
	Reason         string `json:"reason,omitempty"`
	InvolvedObject string `json:"involved_object,omitempty"`
	Message        string `json:"message"`
	Count          int    `json:"count,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}

// GitCommit is a repository change considered as a possible incident cause.
type GitCommit struct {
	SHA          string    `json:"sha"`
	Message      string    `json:"message"`
	Author       string    `json:"author,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	FilesChanged []string  `json:"files_changed,omitempty"`
}

// ShortSHA returns the first 8 characters of the commit hash.
func (c GitCommit) ShortSHA() string {
	if len(c.SHA) > 8 {
		return c.SHA[:8]
	}
	return c.SHA
}

// Metrics carries the canonical numeric signals plus whatever else the
// monitoring source attached. Unknown keys survive a round trip.
type Metrics struct {
	ErrorRate      float64 `json:"error_rate,omitempty"`
	LatencyP95MS   float64 `json:"latency_p95_ms,omitempty"`
	CPUUsage       float64 `json:"cpu_usage,omitempty"`
	MemoryUsage    float64 `json:"memory_usage,omitempty"`
	RequestRateRPS float64 `json:"request_rate_rps,omitempty"`

	// Extra holds non-canonical metric keys.
	Extra map[string]float64 `json:"-"`
}

// metricsKnownKeys are the canonical fields split out of the metrics map.
var metricsKnownKeys = map[string]bool{
	"error_rate":       true,
	"latency_p95_ms":   true,
	"cpu_usage":        true,
	"memory_usage":     true,
	"request_rate_rps": true,
}

// UnmarshalJSON keeps unrecognized metric keys in Extra.
func (m *Metrics) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	type metricsAlias Metrics
	var known metricsAlias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	*m = Metrics(known)

	for k, v := range raw {
		if metricsKnownKeys[k] {
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			// Non-numeric extras are dropped; the canonical contract is
			// numeric gauges.
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]float64)
		}
		m.Extra[k] = f
	}
	return nil
}

// MarshalJSON folds Extra back into the flat metrics object.
func (m Metrics) MarshalJSON() ([]byte, error) {
	out := make(map[string]float64, 5+len(m.Extra))
	if m.ErrorRate != 0 {
		out["error_rate"] = m.ErrorRate
	}
	if m.LatencyP95MS != 0 {
		out["latency_p95_ms"] = m.LatencyP95MS
	}
	if m.CPUUsage != 0 {
		out["cpu_usage"] = m.CPUUsage
	}
	if m.MemoryUsage != 0 {
		out["memory_usage"] = m.MemoryUsage
	}
	if m.RequestRateRPS != 0 {
		out["request_rate_rps"] = m.RequestRateRPS
	}
	for k, v := range m.Extra {
		if !metricsKnownKeys[k] {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

// Incident is the pipeline input: a normalized description of something
// wrong with a service, with whatever evidence the monitoring layer attached.
type Incident struct {
	ID              string         `json:"id"`
	Source          string         `json:"source,omitempty"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	AffectedService string         `json:"affected_service"`
	Severity        Severity       `json:"severity,omitempty"`
	Status          IncidentStatus `json:"status,omitempty"`
	Hypothesis      string         `json:"hypothesis,omitempty"`
	Symptoms        []string       `json:"symptoms,omitempty"`
	CreatedAt       *time.Time     `json:"created_at,omitempty"`

	// Logs is the canonical log list after normalization. Producers may
	// also deliver lines under loki_logs or app_logs; the planner merges
	// those into Logs and clears them.
	Logs     []LogEntry `json:"logs,omitempty"`
	LokiLogs []LogEntry `json:"loki_logs,omitempty"`
	AppLogs  []LogEntry `json:"app_logs,omitempty"`

	K8sEvents []K8sEvent `json:"k8s_events,omitempty"`
	Metrics   *Metrics   `json:"metrics,omitempty"`

	// RecentCommits is canonical; git_commits is an accepted producer alias
	// merged in during normalization.
	RecentCommits []GitCommit `json:"recent_commits,omitempty"`
	GitCommits    []GitCommit `json:"git_commits,omitempty"`

	// ErrorLogCount is computed during normalization.
	ErrorLogCount int `json:"error_log_count,omitempty"`

	// Extra preserves producer fields this pipeline does not interpret.
	Extra map[string]any `json:"-"`
}

// incidentKnownFields mirrors the json tags above; used to split overflow.
var incidentKnownFields = map[string]bool{
	"id": true, "source": true, "title": true, "description": true,
	"affected_service": true, "severity": true, "status": true,
	"hypothesis": true, "symptoms": true, "created_at": true,
	"logs": true, "loki_logs": true, "app_logs": true,
	"k8s_events": true, "metrics": true, "recent_commits": true,
	"git_commits": true, "error_log_count": true,
}

// UnmarshalJSON decodes known fields and preserves the rest in Extra.
func (i *Incident) UnmarshalJSON(data []byte) error {
	type incidentAlias Incident
	var known incidentAlias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	*i = Incident(known)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		if incidentKnownFields[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			continue
		}
		if i.Extra == nil {
			i.Extra = make(map[string]any)
		}
		i.Extra[k] = val
	}
	return nil
}

// MarshalJSON folds Extra back into the incident object. Known fields win
// on key collision.
func (i Incident) MarshalJSON() ([]byte, error) {
	type incidentAlias Incident
	base, err := json.Marshal(incidentAlias(i))
	if err != nil {
		return nil, err
	}
	if len(i.Extra) == 0 {
		return base, nil
	}

	var out map[string]any
	if err := json.Unmarshal(base, &out); err != nil {
		return nil, err
	}
	for k, v := range i.Extra {
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return json.Marshal(out)
}
