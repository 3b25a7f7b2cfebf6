package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeTopic(t *testing.T) (*pstest.Server, *Publisher) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "erasure-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "outcomes")
	require.NoError(t, err)
	t.Cleanup(topic.Stop)
	return srv, New(topic)
}

func TestPublishSendsJSONWithEventAttribute(t *testing.T) {
	t.Parallel()

	srv, pub := newFakeTopic(t)
	id, err := pub.Publish(context.Background(), "task.outcome", map[string]string{"website": "shop.example.com", "status": "complete"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "task.outcome", msgs[0].Attributes["event"])
	var body map[string]string
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	assert.Equal(t, "complete", body["status"])
}

func TestPublishRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	_, pub := newFakeTopic(t)
	_, err := pub.Publish(context.Background(), "task.outcome", make(chan int))
	require.Error(t, err)
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "task.outcome", nil)
	require.Error(t, err)
}
