package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	got []Message
	err error
}

func (r *recorder) Send(_ context.Context, m Message) error {
	r.got = append(r.got, m)
	return r.err
}

func TestMultiDeliversToAllAndJoinsErrors(t *testing.T) {
	failing := &recorder{err: errors.New("down")}
	ok := &recorder{}
	m := Multi{failing, nil, ok}

	err := m.Send(context.Background(), Message{Kind: KindTransferCredited, Destination: "acc"})
	require.Error(t, err)
	assert.Len(t, failing.got, 1)
	assert.Len(t, ok.got, 1)
}

func TestLoggerNotifierNilSafe(t *testing.T) {
	var n *LoggerNotifier
	assert.NoError(t, n.Send(context.Background(), Message{}))
	assert.NoError(t, NewLoggerNotifier(slog.New(slog.NewTextHandler(io.Discard, nil))).Send(context.Background(), Message{Kind: KindTransferDebited}))
}

func TestRedisNotifierPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	n := NewRedisNotifier(client, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := n.Subscribe(ctx, "acc-1")
	require.NoError(t, err)

	sent := Message{Kind: KindTransferCredited, Destination: "acc-1", TransferID: "t-1", Amount: "60.00", At: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, n.Send(ctx, sent))
	require.NoError(t, n.Send(ctx, Message{Kind: KindTransferCredited, Destination: "acc-2"}))

	select {
	case got := <-events:
		assert.Equal(t, sent.TransferID, got.TransferID)
		assert.Equal(t, "60.00", got.Amount)
		assert.True(t, sent.At.Equal(got.At))
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription did not close after cancel")
		}
	}
}
