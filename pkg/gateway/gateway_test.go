package gateway

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantheon-run/pantheon-core/pkg/pantheonerr"
	"github.com/pantheon-run/pantheon-core/pkg/ratelimit"
	"github.com/pantheon-run/pantheon-core/pkg/resilience"
	"github.com/pantheon-run/pantheon-core/pkg/store"
	"github.com/pantheon-run/pantheon-core/pkg/telemetry"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	st, err := store.New(context.Background(), store.Config{
		FallbackPath: filepath.Join(t.TempDir(), "fallback.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rec := telemetry.New()
	limiter := ratelimit.New()
	breakers := resilience.New(rec, nil)
	magic := resilience.NewMagic(resilience.DefaultInitialEnergy, resilience.DefaultAcorns)

	return New(limiter, breakers, magic, st, rec, WithCallTimeout(2*time.Second))
}

// failNTimesConnector fails its first n calls with a transient error,
// then succeeds.
type failNTimesConnector struct {
	n     int32
	calls int32
}

func (f *failNTimesConnector) Init(ctx context.Context) error { return nil }

func (f *failNTimesConnector) Call(ctx context.Context, req ConversationRequest) (ConversationReply, error) {
	call := atomic.AddInt32(&f.calls, 1)
	if call <= f.n {
		return ConversationReply{}, Transient(errors.New("503 service unavailable"))
	}
	return ConversationReply{Text: "ok-" + req.Content}, nil
}

func (f *failNTimesConnector) Stream(ctx context.Context, req ConversationRequest) (<-chan StreamChunk, <-chan error) {
	panic("not used in these tests")
}

func (f *failNTimesConnector) Cleanup() error { return nil }

func TestScenarioAHappyPathEcho(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, g.Register(context.Background(), Descriptor{Name: "echo"}, NewEchoConnector()))

	rec, err := g.Send(context.Background(), "abc", "echo", "conv1")
	require.NoError(t, err)
	assert.Equal(t, "cba", rec.Response)

	tail, err := g.store.Tail(context.Background(), "conv1", 10)
	require.NoError(t, err)
	assert.Len(t, tail, 1)
}

func TestSendUnknownProviderFails(t *testing.T) {
	g := newTestGateway(t)
	_, err := g.Send(context.Background(), "x", "nonexistent", "conv1")
	assert.ErrorIs(t, err, pantheonerr.ErrProviderNotFound)
}

func TestScenarioBRateLimitBoundary(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, g.Register(context.Background(), Descriptor{Name: "echo"}, NewEchoConnector()))
	g.limiter.Configure("echo", ratelimit.Capacities{Minute: 2, Hour: 1000, Day: 10000})
	g.rateLimitWait = 50 * time.Millisecond

	ctx := context.Background()
	_, err1 := g.Send(ctx, "a", "echo", "c1")
	_, err2 := g.Send(ctx, "a", "echo", "c1")
	_, err3 := g.Send(ctx, "a", "echo", "c1")

	assert.NoError(t, err1)
	assert.NoError(t, err2)
	assert.ErrorIs(t, err3, pantheonerr.ErrRateLimited)
}

func TestRetrySucceedsWithinBaseAttemptBudget(t *testing.T) {
	g := newTestGateway(t)
	conn := &failNTimesConnector{n: 2} // fails twice, succeeds on 3rd attempt
	require.NoError(t, g.Register(context.Background(), Descriptor{Name: "flaky"}, conn))

	rec, err := g.Send(context.Background(), "hi", "flaky", "conv1")
	require.NoError(t, err)
	assert.Equal(t, "ok-hi", rec.Response)
	assert.GreaterOrEqual(t, rec.ResponseTime, 3.0) // 1s + 2s delays at minimum
}

func TestRetryThenHealRecoversAfterExhaustingBaseBudget(t *testing.T) {
	g := newTestGateway(t)
	conn := &failNTimesConnector{n: 3} // exhausts the 3-attempt budget, succeeds on heal retry
	require.NoError(t, g.Register(context.Background(), Descriptor{Name: "flaky"}, conn))

	rec, err := g.Send(context.Background(), "hi", "flaky", "conv1")
	require.NoError(t, err)
	assert.Equal(t, "ok-hi", rec.Response)
}

func TestTerminalErrorNeverRetries(t *testing.T) {
	g := newTestGateway(t)
	conn := &terminalConnector{}
	require.NoError(t, g.Register(context.Background(), Descriptor{Name: "broken"}, conn))

	_, err := g.Send(context.Background(), "hi", "broken", "conv1")
	assert.ErrorIs(t, err, pantheonerr.ErrProviderUnavailable)
	assert.Equal(t, int32(1), conn.calls)
}

func TestStatusSnapshotsProvidersBreakerAndMagic(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, g.Register(context.Background(), Descriptor{Name: "echo"}, NewEchoConnector()))

	status := g.Status()
	require.Len(t, status.Providers, 1)
	assert.Equal(t, "echo", status.Providers[0].Descriptor.Name)
	assert.True(t, status.Providers[0].Descriptor.Available)
	assert.Equal(t, "closed", status.BreakerState)
	assert.Equal(t, resilience.DefaultAcorns, status.Magic.Acorns)
}

func TestMalformedReplyKeepsItsOwnErrorKind(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, g.Register(context.Background(), Descriptor{Name: "garbled"}, &malformedConnector{}))

	_, err := g.Send(context.Background(), "hi", "garbled", "conv1")
	assert.ErrorIs(t, err, pantheonerr.ErrProviderMalformed)
	assert.NotErrorIs(t, err, pantheonerr.ErrProviderUnavailable)
}

func TestCancelledSendWritesNothingToStore(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, g.Register(context.Background(), Descriptor{Name: "slow"}, &blockingConnector{}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := g.Send(ctx, "hi", "slow", "conv-cancel")
	assert.ErrorIs(t, err, pantheonerr.ErrCancelled)

	tail, err := g.store.Tail(context.Background(), "conv-cancel", 10)
	require.NoError(t, err)
	assert.Empty(t, tail)
}

type malformedConnector struct{}

func (c *malformedConnector) Init(ctx context.Context) error { return nil }
func (c *malformedConnector) Call(ctx context.Context, req ConversationRequest) (ConversationReply, error) {
	return ConversationReply{}, fmt.Errorf("%w: no text blocks", pantheonerr.ErrProviderMalformed)
}
func (c *malformedConnector) Stream(ctx context.Context, req ConversationRequest) (<-chan StreamChunk, <-chan error) {
	panic("not used")
}
func (c *malformedConnector) Cleanup() error { return nil }

// blockingConnector blocks until its context is cancelled.
type blockingConnector struct{}

func (c *blockingConnector) Init(ctx context.Context) error { return nil }
func (c *blockingConnector) Call(ctx context.Context, req ConversationRequest) (ConversationReply, error) {
	<-ctx.Done()
	return ConversationReply{}, ctx.Err()
}
func (c *blockingConnector) Stream(ctx context.Context, req ConversationRequest) (<-chan StreamChunk, <-chan error) {
	panic("not used")
}
func (c *blockingConnector) Cleanup() error { return nil }

type terminalConnector struct{ calls int32 }

func (c *terminalConnector) Init(ctx context.Context) error { return nil }
func (c *terminalConnector) Call(ctx context.Context, req ConversationRequest) (ConversationReply, error) {
	atomic.AddInt32(&c.calls, 1)
	return ConversationReply{}, errors.New("401 unauthorized")
}
func (c *terminalConnector) Stream(ctx context.Context, req ConversationRequest) (<-chan StreamChunk, <-chan error) {
	panic("not used")
}
func (c *terminalConnector) Cleanup() error { return nil }
