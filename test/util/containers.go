// Package util provides shared test infrastructure: broker and store
// containers started once per package run.
package util

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	brokerOnce sync.Once
	brokerURL  string
	brokerErr  error

	mongoOnce sync.Once
	mongoURI  string
	mongoErr  error
)

// BrokerURL returns an AMQP URL for integration tests, skipping the test in
// -short mode. In CI an external broker is used via CI_RABBITMQ_URL; local
// runs share one testcontainer per package.
func BrokerURL(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	if ciURL := os.Getenv("CI_RABBITMQ_URL"); ciURL != "" {
		t.Log("Using external RabbitMQ from CI_RABBITMQ_URL")
		return ciURL
	}

	brokerOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared RabbitMQ testcontainer")

		container, err := rabbitmq.Run(ctx,
			"rabbitmq:3.13-alpine",
			testcontainers.WithWaitStrategy(
				wait.ForLog("Server startup complete").
					WithStartupTimeout(60*time.Second)),
		)
		if err != nil {
			brokerErr = fmt.Errorf("failed to start rabbitmq container: %w", err)
			return
		}

		url, err := container.AmqpURL(ctx)
		if err != nil {
			brokerErr = fmt.Errorf("failed to get amqp url: %w", err)
			return
		}
		brokerURL = url
	})

	require.NoError(t, brokerErr, "Failed to setup shared RabbitMQ container")
	return brokerURL
}

// MongoURI returns a MongoDB URI for integration tests, skipping the test in
// -short mode. In CI an external instance is used via CI_MONGO_URI; local
// runs share one testcontainer per package.
func MongoURI(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	if ciURI := os.Getenv("CI_MONGO_URI"); ciURI != "" {
		t.Log("Using external MongoDB from CI_MONGO_URI")
		return ciURI
	}

	mongoOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared MongoDB testcontainer")

		container, err := mongodb.Run(ctx, "mongo:7")
		if err != nil {
			mongoErr = fmt.Errorf("failed to start mongodb container: %w", err)
			return
		}

		uri, err := container.ConnectionString(ctx)
		if err != nil {
			mongoErr = fmt.Errorf("failed to get connection string: %w", err)
			return
		}
		mongoURI = uri
	})

	require.NoError(t, mongoErr, "Failed to setup shared MongoDB container")
	return mongoURI
}
