package planner

import (
	"sync"
	"time"

	"github.com/kubeminder/kubeminder/pkg/config"
	"github.com/kubeminder/kubeminder/pkg/models"
)

// Priority ranks a synthesis request for quota arbitration.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// PriorityFor maps incident severity onto a request priority.
func PriorityFor(sev models.Severity) Priority {
	switch sev {
	case models.SeverityHigh:
		return PriorityHigh
	case models.SeverityMedium:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// QuotaManager bounds LLM usage with two rolling windows, 24 hours and
// one hour. Counters are process-local; multi-replica deployments that
// need a shared budget put a distributed counter behind the same methods.
type QuotaManager struct {
	mu  sync.Mutex
	cfg config.QuotaConfig

	daily  []time.Time
	hourly []time.Time

	successes int
	failures  int

	now func() time.Time
}

// NewQuotaManager creates a manager with empty windows.
func NewQuotaManager(cfg config.QuotaConfig) *QuotaManager {
	return &QuotaManager{
		cfg: cfg,
		now: time.Now,
	}
}

// CanMakeRequest reports whether one more LLM call fits the current
// windows. Low priority requests are refused early once daily usage
// crosses the cutoff, reserving headroom for critical incidents.
func (q *QuotaManager) CanMakeRequest(priority Priority) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.prune(q.now())

	if len(q.daily) >= q.cfg.Daily {
		return false
	}
	if len(q.hourly) >= q.cfg.Hourly {
		return false
	}
	if priority == PriorityLow && float64(len(q.daily)) > float64(q.cfg.Daily)*q.cfg.LowPriorityCutoff {
		return false
	}
	return true
}

// Record counts one LLM call against both windows. Failed calls consume
// quota too: the provider bills the attempt either way.
func (q *QuotaManager) Record(success bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.daily = append(q.daily, now)
	q.hourly = append(q.hourly, now)
	if success {
		q.successes++
	} else {
		q.failures++
	}
}

// QuotaStatus is a point-in-time usage snapshot for the health surface.
type QuotaStatus struct {
	DailyUsed    int     `json:"daily_used"`
	DailyLimit   int     `json:"daily_limit"`
	HourlyUsed   int     `json:"hourly_used"`
	HourlyLimit  int     `json:"hourly_limit"`
	UsagePercent float64 `json:"usage_percent"`
	Successes    int     `json:"successes"`
	Failures     int     `json:"failures"`
}

// Status prunes expired usage and reports the remaining window contents.
func (q *QuotaManager) Status() QuotaStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.prune(q.now())

	var pct float64
	if q.cfg.Daily > 0 {
		pct = float64(len(q.daily)) / float64(q.cfg.Daily) * 100
	}
	return QuotaStatus{
		DailyUsed:    len(q.daily),
		DailyLimit:   q.cfg.Daily,
		HourlyUsed:   len(q.hourly),
		HourlyLimit:  q.cfg.Hourly,
		UsagePercent: pct,
		Successes:    q.successes,
		Failures:     q.failures,
	}
}

// prune drops usage timestamps that have left their windows. Callers hold mu.
func (q *QuotaManager) prune(now time.Time) {
	q.daily = pruneWindow(q.daily, now, 24*time.Hour)
	q.hourly = pruneWindow(q.hourly, now, time.Hour)
}

// pruneWindow relies on timestamps being appended in order: everything
// before the first in-window entry is expired.
func pruneWindow(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
