package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kubeminder/kubeminder/pkg/config"
	"github.com/kubeminder/kubeminder/pkg/models"
)

// testQuota returns a manager on a controllable clock.
func testQuota(cfg config.QuotaConfig) (*QuotaManager, *time.Time) {
	q := NewQuotaManager(cfg)
	clock := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return clock }
	return q, &clock
}

func TestPriorityFor(t *testing.T) {
	assert.Equal(t, PriorityHigh, PriorityFor(models.SeverityHigh))
	assert.Equal(t, PriorityNormal, PriorityFor(models.SeverityMedium))
	assert.Equal(t, PriorityLow, PriorityFor(models.SeverityLow))
	assert.Equal(t, PriorityLow, PriorityFor(""))
}

func TestQuotaDailyLimit(t *testing.T) {
	q, _ := testQuota(config.QuotaConfig{Daily: 2, Hourly: 10, LowPriorityCutoff: 0.8})

	assert.True(t, q.CanMakeRequest(PriorityHigh))
	q.Record(true)
	assert.True(t, q.CanMakeRequest(PriorityHigh))
	q.Record(true)

	// Ceiling reached; priority does not bypass it.
	assert.False(t, q.CanMakeRequest(PriorityHigh))
	assert.False(t, q.CanMakeRequest(PriorityLow))
}

func TestQuotaHourlyLimit(t *testing.T) {
	q, clock := testQuota(config.QuotaConfig{Daily: 100, Hourly: 1, LowPriorityCutoff: 0.8})

	q.Record(true)
	assert.False(t, q.CanMakeRequest(PriorityHigh))

	// Inside the hour the usage still counts.
	*clock = clock.Add(59 * time.Minute)
	assert.False(t, q.CanMakeRequest(PriorityHigh))

	// Past the hour it ages out; the daily window still holds it.
	*clock = clock.Add(2 * time.Minute)
	assert.True(t, q.CanMakeRequest(PriorityHigh))
	assert.Equal(t, 1, q.Status().DailyUsed)
	assert.Equal(t, 0, q.Status().HourlyUsed)
}

func TestQuotaDailyWindowExpiry(t *testing.T) {
	q, clock := testQuota(config.QuotaConfig{Daily: 1, Hourly: 10, LowPriorityCutoff: 0.8})

	q.Record(true)
	*clock = clock.Add(23 * time.Hour)
	assert.False(t, q.CanMakeRequest(PriorityHigh))

	*clock = clock.Add(2 * time.Hour)
	assert.True(t, q.CanMakeRequest(PriorityHigh))
	assert.Equal(t, 0, q.Status().DailyUsed)
}

func TestQuotaLowPriorityCutoff(t *testing.T) {
	q, clock := testQuota(config.QuotaConfig{Daily: 10, Hourly: 10, LowPriorityCutoff: 0.8})

	for i := 0; i < 8; i++ {
		q.Record(true)
		// Spread usage across hours so only the daily window fills.
		*clock = clock.Add(61 * time.Minute)
	}

	// Exactly at the cutoff low priority still passes; the reserve kicks
	// in strictly above it.
	assert.True(t, q.CanMakeRequest(PriorityLow))

	q.Record(true)
	*clock = clock.Add(61 * time.Minute)
	assert.False(t, q.CanMakeRequest(PriorityLow))
	assert.True(t, q.CanMakeRequest(PriorityNormal))
	assert.True(t, q.CanMakeRequest(PriorityHigh))
}

func TestQuotaRecordCountsFailures(t *testing.T) {
	q, _ := testQuota(config.QuotaConfig{Daily: 10, Hourly: 10, LowPriorityCutoff: 0.8})

	q.Record(true)
	q.Record(false)
	q.Record(false)

	st := q.Status()
	assert.Equal(t, 1, st.Successes)
	assert.Equal(t, 2, st.Failures)
	// Failed calls consume quota too.
	assert.Equal(t, 3, st.DailyUsed)
	assert.Equal(t, 3, st.HourlyUsed)
}

func TestQuotaStatus(t *testing.T) {
	q, _ := testQuota(config.QuotaConfig{Daily: 50, Hourly: 10, LowPriorityCutoff: 0.8})

	for i := 0; i < 5; i++ {
		q.Record(true)
	}

	st := q.Status()
	assert.Equal(t, 5, st.DailyUsed)
	assert.Equal(t, 50, st.DailyLimit)
	assert.Equal(t, 5, st.HourlyUsed)
	assert.Equal(t, 10, st.HourlyLimit)
	assert.InDelta(t, 10.0, st.UsagePercent, 1e-9)
}
