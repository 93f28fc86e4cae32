package guard

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
)

func newTestGuard(t *testing.T, cfg Config) *Guard {
	t.Helper()
	cfg.Logger = corelog.NewNopLogger()
	g, err := New(cfg)
	require.NoError(t, err)
	return g
}

func TestGuard_BurstThenLimited(t *testing.T) {
	g := newTestGuard(t, Config{Enabled: true, AttemptsPerMinute: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Allow("10.0.0.5"))
	}
	err := g.Allow("10.0.0.5")
	assert.Equal(t, coreerrors.CodeRateLimited, coreerrors.GetCode(err))

	// 其他主机不受影响
	assert.NoError(t, g.Allow("10.0.0.6"))
}

func TestGuard_ForgiveResets(t *testing.T) {
	g := newTestGuard(t, Config{Enabled: true, AttemptsPerMinute: 1, Burst: 1})

	require.NoError(t, g.Allow("10.0.0.5"))
	require.Error(t, g.Allow("10.0.0.5"))

	g.Forgive("10.0.0.5")
	assert.NoError(t, g.Allow("10.0.0.5"))
}

func TestGuard_Disabled(t *testing.T) {
	g := newTestGuard(t, Config{Enabled: false, AttemptsPerMinute: 1, Burst: 1})

	for i := 0; i < 10; i++ {
		assert.NoError(t, g.Allow("10.0.0.5"))
	}
	assert.Equal(t, 0, g.Tracked())

	var nilGuard *Guard
	assert.NoError(t, nilGuard.Allow("10.0.0.5"))
}

func TestGuard_EvictsLeastRecentlyUsed(t *testing.T) {
	g := newTestGuard(t, Config{Enabled: true, MaxTrackedPeers: 2})

	require.NoError(t, g.Allow("a"))
	require.NoError(t, g.Allow("b"))
	require.NoError(t, g.Allow("c"))
	assert.Equal(t, 2, g.Tracked())
}

func TestGuard_Concurrent(t *testing.T) {
	g := newTestGuard(t, Config{Enabled: true, AttemptsPerMinute: 1, Burst: 5})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Allow("10.0.0.9") == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, allowed)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLockoutGuard(t *testing.T) (*Guard, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	g := newTestGuard(t, Config{
		Enabled:           true,
		AttemptsPerMinute: 600,
		Burst:             100,
		MaxFailures:       3,
		FailureWindow:     time.Minute,
		BanDuration:       10 * time.Minute,
		Now:               clock.Now,
	})
	return g, clock
}

func TestGuard_LockoutAfterFailures(t *testing.T) {
	g, clock := newLockoutGuard(t)

	assert.False(t, g.RecordFailure("10.0.0.5"))
	assert.False(t, g.RecordFailure("10.0.0.5"))
	assert.NoError(t, g.Allow("10.0.0.5"))

	assert.True(t, g.RecordFailure("10.0.0.5"))
	err := g.Allow("10.0.0.5")
	assert.Equal(t, coreerrors.CodeRateLimited, coreerrors.GetCode(err))
	assert.Contains(t, err.Error(), "locked out")
	assert.Equal(t, 1, g.Banned())

	// 其他主机不受影响
	assert.NoError(t, g.Allow("10.0.0.6"))

	clock.Advance(9 * time.Minute)
	assert.Error(t, g.Allow("10.0.0.5"))
}

func TestGuard_LockoutExpires(t *testing.T) {
	g, clock := newLockoutGuard(t)

	for i := 0; i < 3; i++ {
		g.RecordFailure("10.0.0.5")
	}
	require.Error(t, g.Allow("10.0.0.5"))

	clock.Advance(10*time.Minute + time.Second)
	assert.NoError(t, g.Allow("10.0.0.5"))
	assert.Equal(t, 0, g.Banned())

	// 封禁结束后重新计数
	assert.False(t, g.RecordFailure("10.0.0.5"))
}

func TestGuard_FailuresOutsideWindowForgotten(t *testing.T) {
	g, clock := newLockoutGuard(t)

	g.RecordFailure("10.0.0.5")
	g.RecordFailure("10.0.0.5")
	clock.Advance(2 * time.Minute)

	assert.False(t, g.RecordFailure("10.0.0.5"))
	assert.NoError(t, g.Allow("10.0.0.5"))
}

func TestGuard_ForgiveClearsFailures(t *testing.T) {
	g, _ := newLockoutGuard(t)

	g.RecordFailure("10.0.0.5")
	g.RecordFailure("10.0.0.5")
	g.Forgive("10.0.0.5")

	assert.False(t, g.RecordFailure("10.0.0.5"))
	assert.NoError(t, g.Allow("10.0.0.5"))
}

func TestGuard_DisabledIgnoresFailures(t *testing.T) {
	g := newTestGuard(t, Config{Enabled: false, MaxFailures: 1})

	assert.False(t, g.RecordFailure("10.0.0.5"))
	assert.NoError(t, g.Allow("10.0.0.5"))

	var nilGuard *Guard
	assert.False(t, nilGuard.RecordFailure("10.0.0.5"))
	assert.Equal(t, 0, nilGuard.Banned())
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "192.168.1.4", HostOf(&net.TCPAddr{IP: net.ParseIP("192.168.1.4"), Port: 51820}))
	assert.Equal(t, "::1", HostOf(&net.UDPAddr{IP: net.ParseIP("::1"), Port: 51820}))
	assert.Equal(t, "pipe", HostOf(pipeAddr{}))
	assert.Equal(t, "", HostOf(nil))
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }
