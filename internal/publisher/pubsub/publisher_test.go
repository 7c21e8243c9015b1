package pubsub

import (
	"context"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type kindedPayload struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func (k kindedPayload) EventKind() string { return k.Kind }

func newFakeServer(t *testing.T) (*pstest.Server, []option.ClientOption) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, []option.ClientOption{option.WithGRPCConn(conn)}
}

func TestOpenAndPublish(t *testing.T) {
	ctx := context.Background()
	srv, opts := newFakeServer(t)

	admin, err := pubsub.NewClient(ctx, "project-id", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })
	_, err = admin.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: fullTopicName("project-id", "saves")})
	require.NoError(t, err)

	pub, err := Open(ctx, "project-id", "saves", opts...)
	require.NoError(t, err)

	id, err := pub.Publish(ctx, "saves", kindedPayload{Kind: "note", ID: "n1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"kind":"note","id":"n1"}`, string(msgs[0].Data))
	require.Equal(t, "note", msgs[0].Attributes["kind"])
	require.Equal(t, "saves", msgs[0].Attributes["topic"])
}

func TestOpenMissingTopic(t *testing.T) {
	ctx := context.Background()
	_, opts := newFakeServer(t)

	_, err := Open(ctx, "project-id", "absent", opts...)
	require.ErrorContains(t, err, "absent")

	_, err = Open(ctx, "", "absent", opts...)
	require.Error(t, err)
}

func TestPublishUnconfigured(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "saves", "x")
	require.Error(t, err)
	require.NoError(t, New(nil).Close())
}
