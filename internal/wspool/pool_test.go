package wspool

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaro-drops/drops-miner/internal/minerlog"
)

// blockingDialer never completes a dial; it blocks until its context is
// cancelled, so a test can observe whether a connection's own run loop was
// actually torn down rather than left spinning.
type blockingDialer struct{}

func (blockingDialer) Dial(ctx context.Context, url string) (wsConn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func topicsNamed(prefix string, n int) []Topic {
	out := make([]Topic, n)
	for i := 0; i < n; i++ {
		out[i] = Topic{Name: prefix + "-" + strconv.Itoa(i)}
	}
	return out
}

func TestDiffTopicsComputesAddedAndRemoved(t *testing.T) {
	desired := map[string]Topic{"a": {Name: "a"}, "b": {Name: "b"}}
	submitted := map[string]bool{"b": true, "c": true}

	added, removed := diffTopics(desired, submitted)
	assert.Len(t, added, 1)
	assert.Equal(t, "a", added[0].Name)
	assert.Equal(t, []string{"c"}, removed)
}

func TestAddTopicsFillsExistingConnectionFirst(t *testing.T) {
	p := New("wss://example.invalid", func() string { return "tok" }, minerlog.NewDiscard())
	err := p.AddTopics(context.Background(), topicsNamed("t", 10))
	require.NoError(t, err)
	assert.Equal(t, 1, p.ConnectionCount())

	err = p.AddTopics(context.Background(), topicsNamed("u", 5))
	require.NoError(t, err)
	assert.Equal(t, 1, p.ConnectionCount())
	assert.Equal(t, 15, p.conns[0].topicCount())
}

func TestAddTopicsSpawnsNewConnectionWhenFull(t *testing.T) {
	p := New("wss://example.invalid", func() string { return "tok" }, minerlog.NewDiscard())
	err := p.AddTopics(context.Background(), topicsNamed("t", defaultMaxTopicsPerConn))
	require.NoError(t, err)
	assert.Equal(t, 1, p.ConnectionCount())

	err = p.AddTopics(context.Background(), topicsNamed("u", 1))
	require.NoError(t, err)
	assert.Equal(t, 2, p.ConnectionCount())
}

func TestAddTopicsFailsAtPoolCapacity(t *testing.T) {
	p := New("wss://example.invalid", func() string { return "tok" }, minerlog.NewDiscard())
	err := p.AddTopics(context.Background(), topicsNamed("t", defaultMaxConnections*defaultMaxTopicsPerConn))
	require.NoError(t, err)
	assert.Equal(t, defaultMaxConnections, p.ConnectionCount())

	err = p.AddTopics(context.Background(), topicsNamed("overflow", 1))
	assert.Error(t, err)
}

func TestNewWithLimitsCapsConnectionsBelowDefault(t *testing.T) {
	p, err := NewWithLimits("wss://example.invalid", func() string { return "tok" }, minerlog.NewDiscard(), 2, 5, "")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Capacity())

	err = p.AddTopics(context.Background(), topicsNamed("t", 10))
	require.NoError(t, err)
	assert.Equal(t, 2, p.ConnectionCount())

	err = p.AddTopics(context.Background(), topicsNamed("overflow", 1))
	assert.Error(t, err)
}

func TestNewWithLimitsFallsBackToDefaultsWhenZero(t *testing.T) {
	p, err := NewWithLimits("wss://example.invalid", func() string { return "tok" }, minerlog.NewDiscard(), 0, 0, "")
	require.NoError(t, err)
	assert.Equal(t, defaultMaxConnections*defaultMaxTopicsPerConn, p.Capacity())
}

func TestNewWithLimitsRejectsInvalidProxyURL(t *testing.T) {
	_, err := NewWithLimits("wss://example.invalid", func() string { return "tok" }, minerlog.NewDiscard(), 0, 0, "://bad")
	assert.Error(t, err)
}

func TestRemoveTopicsRebalancesAndClosesLastConnection(t *testing.T) {
	p := New("wss://example.invalid", func() string { return "tok" }, minerlog.NewDiscard())
	require.NoError(t, p.AddTopics(context.Background(), topicsNamed("t", defaultMaxTopicsPerConn)))
	require.NoError(t, p.AddTopics(context.Background(), topicsNamed("u", 5)))
	assert.Equal(t, 2, p.ConnectionCount())

	names := make([]string, 0)
	for _, t := range topicsNamed("t", 10) {
		names = append(names, t.Name)
	}
	p.RemoveTopics(names)
	assert.Equal(t, 1, p.ConnectionCount())
}

func TestRemoveTopicsRebalanceStopsRetiredConnectionRunLoop(t *testing.T) {
	p := New("wss://example.invalid", func() string { return "tok" }, minerlog.NewDiscard())
	p.dialer = blockingDialer{}
	require.NoError(t, p.AddTopics(context.Background(), topicsNamed("t", defaultMaxTopicsPerConn)))
	require.NoError(t, p.AddTopics(context.Background(), topicsNamed("u", 5)))
	require.Equal(t, 2, p.ConnectionCount())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.mu.Lock()
	retired := p.conns[1]
	p.mu.Unlock()

	names := make([]string, 0)
	for _, top := range topicsNamed("t", 10) {
		names = append(names, top.Name)
	}
	p.RemoveTopics(names)
	require.Equal(t, 1, p.ConnectionCount())

	require.Eventually(t, func() bool {
		return retired.State() == StateClosed
	}, time.Second, 10*time.Millisecond, "retired connection's run loop should have been cancelled, not left dialing forever")
}
