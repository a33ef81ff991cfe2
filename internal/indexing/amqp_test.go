package indexing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRabbit(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672")
	require.NoError(t, err)

	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
}

func TestAMQPPublisher_Index(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := setupRabbit(t)

	p, err := NewAMQPPublisher(url, "vector_indexing")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	ok, err := p.Index(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, ok)

	conn, err := amqp.Dial(url)
	require.NoError(t, err)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	msg, found, err := ch.Get("vector_indexing", true)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "pgm_1", msg.MessageId)

	var got Request
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, testRequest(), got)
}
