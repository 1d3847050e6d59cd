package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costengine/internal/core/id"
	"costengine/internal/infrastructure/storage/postgres"
)

type fakeAppender struct {
	calls []*redis.XAddArgs
	err   error
}

func (f *fakeAppender) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.calls = append(f.calls, a)
	return redis.NewStringResult("1-0", f.err)
}

func TestPublisher_Handle(t *testing.T) {
	fake := &fakeAppender{}
	p := NewPublisher(fake, "", 1000)
	msg := &postgres.OutboxMessage{
		ID:            id.New(),
		AggregateType: "consumption_unit",
		AggregateID:   id.New(),
		EventType:     "ConsumptionRecorded",
		Payload:       []byte(`{"qty":"15"}`),
		CreatedAt:     time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}

	require.NoError(t, p.Handle(context.Background(), msg))
	require.Len(t, fake.calls, 1)
	args := fake.calls[0]
	assert.Equal(t, DefaultStream, args.Stream)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)

	values, ok := args.Values.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, msg.ID.String(), values["message_id"])
	assert.Equal(t, "ConsumptionRecorded", values["event_type"])
	assert.Equal(t, `{"qty":"15"}`, values["payload"])
}

func TestPublisher_HandleError(t *testing.T) {
	p := NewPublisher(&fakeAppender{err: errors.New("connection refused")}, "events", 0)
	err := p.Handle(context.Background(), &postgres.OutboxMessage{ID: id.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xadd events")
}
