package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemLog_AppendAndPoll(t *testing.T) {
	ctx := context.Background()
	l := NewMemLog(2)

	require.Equal(t, int64(0), l.Append(0, []byte(`a`)))
	require.Equal(t, int64(1), l.Append(0, []byte(`b`)))
	require.Equal(t, int64(0), l.Append(1, []byte(`c`)))

	r, err := l.OpenPartition(ctx, 0, 0)
	require.NoError(t, err)
	defer r.Close()

	events, err := r.Poll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(0), events[0].Offset)
	assert.Equal(t, []byte(`a`), events[0].Payload)
	assert.Equal(t, int64(1), events[1].Offset)
	assert.Equal(t, int32(0), events[1].Partition)
}

func TestMemLog_EmptyPollIsNotAnError(t *testing.T) {
	ctx := context.Background()
	l := NewMemLog(1)
	l.PollTimeout = 10 * time.Millisecond

	r, err := l.OpenPartition(ctx, 0, 0)
	require.NoError(t, err)
	defer r.Close()

	events, err := r.Poll(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMemLog_PollRespectsMaxRecords(t *testing.T) {
	ctx := context.Background()
	l := NewMemLog(1)
	for i := 0; i < 5; i++ {
		l.Append(0, []byte{byte(i)})
	}

	r, err := l.OpenPartition(ctx, 0, 0)
	require.NoError(t, err)
	defer r.Close()

	events, err := r.Poll(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)

	events, err = r.Poll(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(3), events[0].Offset)
}

func TestMemLog_ReopenRedelivers(t *testing.T) {
	ctx := context.Background()
	l := NewMemLog(1)
	l.Append(0, []byte(`a`))
	l.Append(0, []byte(`b`))
	l.Append(0, []byte(`c`))

	// First reader consumes everything.
	r1, err := l.OpenPartition(ctx, 0, 0)
	require.NoError(t, err)
	events, err := r1.Poll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	r1.Close()

	// Reopening at an older offset re-delivers, as a restarted consumer
	// resuming from its checkpoint would observe.
	r2, err := l.OpenPartition(ctx, 0, 1)
	require.NoError(t, err)
	defer r2.Close()

	events, err = r2.Poll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Offset)
	assert.Equal(t, []byte(`b`), events[0].Payload)
}

func TestMemLog_WakesBlockedPoll(t *testing.T) {
	ctx := context.Background()
	l := NewMemLog(1)
	l.PollTimeout = 2 * time.Second

	r, err := l.OpenPartition(ctx, 0, 0)
	require.NoError(t, err)
	defer r.Close()

	got := make(chan int, 1)
	go func() {
		events, err := r.Poll(ctx, 10)
		if err == nil {
			got <- len(events)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	l.Append(0, []byte(`late`))

	select {
	case n := <-got:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("poll did not wake on append")
	}
}

func TestMemLog_UnknownPartition(t *testing.T) {
	l := NewMemLog(1)
	_, err := l.OpenPartition(context.Background(), 9, 0)
	require.ErrorIs(t, err, ErrUnavailable)
}
