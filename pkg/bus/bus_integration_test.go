package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeminder/kubeminder/pkg/config"
	"github.com/kubeminder/kubeminder/pkg/models"
	"github.com/kubeminder/kubeminder/test/util"
)

func dialTestBus(t *testing.T) *Bus {
	t.Helper()

	cfg := config.DefaultBusConfig()
	cfg.URL = util.BrokerURL(t)
	cfg.DialAttempts = 3

	b, err := Dial(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestDialDeclaresTopology(t *testing.T) {
	b := dialTestBus(t)

	// Passive declarations fail if Dial did not create the queues.
	ch, err := b.Channel()
	require.NoError(t, err)
	defer ch.Close()

	for _, queue := range []string{
		QueueIncidentsNew,
		QueuePlansProposed,
		QueuePlansApproved,
		QueueIncidentsResolved,
		QueueIncidentsNewDLQ,
		QueuePlansApprovedDLQ,
	} {
		_, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
		assert.NoError(t, err, "queue %s should exist", queue)
	}
}

func TestPublishIncidentRoundTrip(t *testing.T) {
	b := dialTestBus(t)

	pub, err := NewPublisher(b)
	require.NoError(t, err)
	defer pub.Close()

	received := make(chan amqp091.Delivery, 1)
	consumer, err := NewConsumer(b, QueueIncidentsNew, func(_ context.Context, d amqp091.Delivery) Verdict {
		received <- d
		return Ack
	})
	require.NoError(t, err)
	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop()

	incident := &models.Incident{
		ID:              "INC-roundtrip",
		Title:           "latency spike",
		AffectedService: "web",
		Severity:        models.SeverityMedium,
	}
	require.NoError(t, pub.PublishIncident(context.Background(), incident))

	select {
	case d := <-received:
		assert.Equal(t, "application/json", d.ContentType)
		assert.Equal(t, uint8(amqp091.Persistent), d.DeliveryMode)
		assert.Equal(t, "INC-roundtrip", d.MessageId)

		var echo models.Incident
		require.NoError(t, json.Unmarshal(d.Body, &echo))
		assert.Equal(t, incident.ID, echo.ID)
		assert.Equal(t, incident.AffectedService, echo.AffectedService)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestRejectDeadLettersApprovedPlan(t *testing.T) {
	b := dialTestBus(t)

	pub, err := NewPublisher(b)
	require.NoError(t, err)
	defer pub.Close()

	// Reject everything on the work queue, then expect it on the DLQ.
	consumer, err := NewConsumer(b, QueuePlansApproved, func(_ context.Context, d amqp091.Delivery) Verdict {
		return Reject
	})
	require.NoError(t, err)
	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop()

	dead := make(chan amqp091.Delivery, 1)
	dlqConsumer, err := NewConsumer(b, QueuePlansApprovedDLQ, func(_ context.Context, d amqp091.Delivery) Verdict {
		dead <- d
		return Ack
	})
	require.NoError(t, err)
	require.NoError(t, dlqConsumer.Start(context.Background()))
	defer dlqConsumer.Stop()

	plan := &models.Plan{
		ID:         "plan_dlq",
		IncidentID: "INC-dlq",
		Title:      "doomed plan",
		Status:     models.PlanStatusApproved,
	}
	require.NoError(t, pub.PublishPlanApproved(context.Background(), plan))

	select {
	case d := <-dead:
		var echo models.Plan
		require.NoError(t, json.Unmarshal(d.Body, &echo))
		assert.Equal(t, "plan_dlq", echo.ID)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for dead-lettered delivery")
	}
}

func TestRetryRedelivers(t *testing.T) {
	b := dialTestBus(t)

	pub, err := NewPublisher(b)
	require.NoError(t, err)
	defer pub.Close()

	attempts := make(chan int, 4)
	count := 0
	consumer, err := NewConsumer(b, QueueIncidentsResolved, func(_ context.Context, d amqp091.Delivery) Verdict {
		count++
		attempts <- count
		if count < 2 {
			return Retry
		}
		return Ack
	})
	require.NoError(t, err)
	require.NoError(t, consumer.Start(context.Background()))
	defer consumer.Stop()

	res := &models.Resolution{
		IncidentID: "INC-retry",
		PlanID:     "plan_retry",
		Status:     models.ResolutionResolved,
	}
	require.NoError(t, pub.PublishResolution(context.Background(), res))

	deadline := time.After(10 * time.Second)
	for {
		select {
		case n := <-attempts:
			if n >= 2 {
				return // redelivered and acked
			}
		case <-deadline:
			t.Fatal("timed out waiting for redelivery")
		}
	}
}
