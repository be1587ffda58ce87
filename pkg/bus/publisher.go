package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/kubeminder/kubeminder/pkg/models"
	"github.com/kubeminder/kubeminder/pkg/version"
)

// Publisher publishes pipeline events as persistent JSON messages. A single
// channel backs all publishes, serialized by a mutex: AMQP channels are not
// safe for concurrent use.
type Publisher struct {
	mu      sync.Mutex
	channel *amqp091.Channel
	timeout time.Duration
}

// NewPublisher opens a dedicated publishing channel on the bus.
func NewPublisher(b *Bus) (*Publisher, error) {
	ch, err := b.Channel()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		channel: ch,
		timeout: b.cfg.PublishTimeout,
	}, nil
}

// PublishIncident emits a new incident onto the incidents exchange.
func (p *Publisher) PublishIncident(ctx context.Context, incident *models.Incident) error {
	if err := p.publish(ctx, ExchangeIncidents, KeyIncidentNew, incident.ID, incident); err != nil {
		return fmt.Errorf("failed to publish incident: %w", err)
	}
	slog.Info("Published incident", "incident_id", incident.ID, "source", incident.Source)
	return nil
}

// PublishPlanProposed emits a synthesized plan awaiting approval.
func (p *Publisher) PublishPlanProposed(ctx context.Context, plan *models.Plan) error {
	if err := p.publish(ctx, ExchangePlans, KeyPlanProposed, plan.ID, plan); err != nil {
		return fmt.Errorf("failed to publish proposed plan: %w", err)
	}
	slog.Info("Published proposed plan", "plan_id", plan.ID, "incident_id", plan.IncidentID)
	return nil
}

// PublishPlanApproved emits an approved plan ready for execution.
func (p *Publisher) PublishPlanApproved(ctx context.Context, plan *models.Plan) error {
	if err := p.publish(ctx, ExchangePlans, KeyPlanApproved, plan.ID, plan); err != nil {
		return fmt.Errorf("failed to publish approved plan: %w", err)
	}
	slog.Info("Published approved plan",
		"plan_id", plan.ID,
		"incident_id", plan.IncidentID,
		"approved_by", plan.ApprovedBy)
	return nil
}

// PublishResolution emits the terminal outcome of a plan execution.
func (p *Publisher) PublishResolution(ctx context.Context, res *models.Resolution) error {
	if err := p.publish(ctx, ExchangeIncidents, KeyIncidentResolved, uuid.New().String(), res); err != nil {
		return fmt.Errorf("failed to publish resolution: %w", err)
	}
	slog.Info("Published resolution",
		"incident_id", res.IncidentID,
		"plan_id", res.PlanID,
		"status", res.Status)
	return nil
}

func (p *Publisher) publish(ctx context.Context, exchange, key, messageID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.channel.PublishWithContext(
		ctx,
		exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Body:         body,
			Timestamp:    time.Now().UTC(),
			MessageId:    messageID,
			AppId:        version.AppName,
		},
	)
}

// Close releases the publishing channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return nil
	}
	err := p.channel.Close()
	p.channel = nil
	return err
}
