package probe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	mu  sync.Mutex
	err error
	n   int
}

func (f *fakePinger) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return f.err
}

func (f *fakePinger) set(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakePinger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

type fakeRecorder struct {
	mu   sync.Mutex
	last []bool
}

func (r *fakeRecorder) SetUpstreamUp(up bool) {
	r.mu.Lock()
	r.last = append(r.last, up)
	r.mu.Unlock()
}

func TestCheckUpdatesReadiness(t *testing.T) {
	pinger := &fakePinger{}
	rec := &fakeRecorder{}
	p := New(pinger, rec, time.Second)

	require.False(t, p.Ready())
	at, err := p.Last()
	require.True(t, at.IsZero())
	require.NoError(t, err)

	p.Check(context.Background())
	require.True(t, p.Ready())

	pinger.set(errors.New("connection refused"))
	p.Check(context.Background())
	require.False(t, p.Ready())

	at, err = p.Last()
	require.False(t, at.IsZero())
	require.EqualError(t, err, "connection refused")
	require.Equal(t, []bool{true, false}, rec.last)
}

func TestNilRecorder(t *testing.T) {
	p := New(&fakePinger{}, nil, 0)
	require.Equal(t, defaultTimeout, p.timeout)
	require.NotPanics(t, func() { p.Check(context.Background()) })
	require.True(t, p.Ready())
}

func TestStartRunsInitialCheck(t *testing.T) {
	pinger := &fakePinger{}
	p := New(pinger, nil, time.Second)

	require.NoError(t, p.Start(context.Background(), "*/5 * * * *"))
	defer p.Stop()

	require.Eventually(t, p.Ready, time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, pinger.calls(), 1)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	p := New(&fakePinger{}, nil, time.Second)
	require.Error(t, p.Start(context.Background(), "every five minutes"))
	require.NotPanics(t, p.Stop)
}

func TestStartWithEmptySchedule(t *testing.T) {
	pinger := &fakePinger{}
	p := New(pinger, nil, time.Second)

	require.ErrorIs(t, p.Start(context.Background(), ""), ErrNoSchedule)
	require.Nil(t, p.sched)
	require.Zero(t, pinger.calls())
	require.NotPanics(t, p.Stop)
}
