package bus

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/kubeminder/kubeminder/pkg/config"
)

// Bus holds the broker connection shared by publishers and consumers.
// Channels are cheap and not goroutine-safe, so each consumer and publisher
// opens its own.
type Bus struct {
	conn *amqp091.Connection
	cfg  *config.BusConfig
}

// Dial connects to the broker, retrying until the configured attempt budget
// is spent. Brokers routinely come up after the agents in compose and
// cluster deployments.
func Dial(cfg *config.BusConfig) (*Bus, error) {
	var conn *amqp091.Connection
	var err error

	for attempt := 1; attempt <= cfg.DialAttempts; attempt++ {
		conn, err = amqp091.Dial(cfg.URL)
		if err == nil {
			break
		}
		slog.Warn("Broker dial failed, retrying",
			"attempt", attempt,
			"max_attempts", cfg.DialAttempts,
			"retry_in", cfg.DialDelay,
			"error", err)
		time.Sleep(cfg.DialDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker after %d attempts: %w", cfg.DialAttempts, err)
	}

	b := &Bus{conn: conn, cfg: cfg}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := DeclareTopology(ch); err != nil {
		conn.Close()
		return nil, err
	}

	slog.Info("Connected to broker", "url_host_only", safeURL(cfg.URL))
	return b, nil
}

// Channel opens a fresh channel on the shared connection.
func (b *Bus) Channel() (*amqp091.Channel, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// Healthy reports whether the underlying connection is still open.
func (b *Bus) Healthy() bool {
	return b.conn != nil && !b.conn.IsClosed()
}

// Close closes the broker connection. Consumers and publishers must be
// stopped first; their channels die with the connection.
func (b *Bus) Close() error {
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	return b.conn.Close()
}

// safeURL strips credentials from an AMQP URL for logging.
func safeURL(url string) string {
	at := strings.LastIndexByte(url, '@')
	scheme := strings.Index(url, "://")
	if at >= 0 && scheme >= 0 && at > scheme {
		return url[:scheme+3] + url[at+1:]
	}
	return url
}
