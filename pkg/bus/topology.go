// Package bus wraps the AMQP broker: topology declaration, typed publishing
// and consumer lifecycles for the pipeline queues.
package bus

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// Exchange and routing key names. Both exchanges are durable topic
// exchanges; queues bind with bare keys ("new", not "incidents.new").
const (
	ExchangeIncidents = "incidents"
	ExchangePlans     = "plans"

	KeyIncidentNew      = "new"
	KeyPlanProposed     = "proposed"
	KeyPlanApproved     = "approved"
	KeyIncidentResolved = "resolved"

	// Dead-letter keys route rejected deliveries to parking queues on the
	// same exchange.
	KeyIncidentNewDLQ  = "incidents.new.dlq"
	KeyPlanApprovedDLQ = "plans.approved.dlq"
)

// Queue names.
const (
	QueueIncidentsNew      = "q.incidents.new"
	QueuePlansProposed     = "q.plans.proposed"
	QueuePlansApproved     = "q.plans.approved"
	QueueIncidentsResolved = "q.incidents.resolved"

	QueueIncidentsNewDLQ  = "q.incidents.new.dlq"
	QueuePlansApprovedDLQ = "q.plans.approved.dlq"
)

type queueSpec struct {
	name     string
	exchange string
	key      string
	args     amqp091.Table
}

// topology lists every queue with its binding. Queues whose consumers can
// reject messages permanently carry a dead-letter exchange so nothing is
// silently dropped.
var topology = []queueSpec{
	{
		name:     QueueIncidentsNew,
		exchange: ExchangeIncidents,
		key:      KeyIncidentNew,
		args: amqp091.Table{
			"x-dead-letter-exchange":    ExchangeIncidents,
			"x-dead-letter-routing-key": KeyIncidentNewDLQ,
		},
	},
	{
		name:     QueuePlansProposed,
		exchange: ExchangePlans,
		key:      KeyPlanProposed,
	},
	{
		name:     QueuePlansApproved,
		exchange: ExchangePlans,
		key:      KeyPlanApproved,
		args: amqp091.Table{
			"x-dead-letter-exchange":    ExchangePlans,
			"x-dead-letter-routing-key": KeyPlanApprovedDLQ,
		},
	},
	{
		name:     QueueIncidentsResolved,
		exchange: ExchangeIncidents,
		key:      KeyIncidentResolved,
	},
	{
		name:     QueueIncidentsNewDLQ,
		exchange: ExchangeIncidents,
		key:      KeyIncidentNewDLQ,
	},
	{
		name:     QueuePlansApprovedDLQ,
		exchange: ExchangePlans,
		key:      KeyPlanApprovedDLQ,
	},
}

// DeclareTopology declares both exchanges and every pipeline queue on the
// given channel. Declarations are idempotent; every agent declares at
// startup so process start order does not matter.
func DeclareTopology(ch *amqp091.Channel) error {
	for _, exchange := range []string{ExchangeIncidents, ExchangePlans} {
		err := ch.ExchangeDeclare(
			exchange, // exchange name
			"topic",  // exchange type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare %s exchange: %w", exchange, err)
		}
	}

	for _, q := range topology {
		_, err := ch.QueueDeclare(
			q.name, // queue name
			true,   // durable
			false,  // auto-deleted
			false,  // exclusive
			false,  // no-wait
			q.args, // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.name, err)
		}

		if err := ch.QueueBind(q.name, q.key, q.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to %s/%s: %w", q.name, q.exchange, q.key, err)
		}
	}

	return nil
}
