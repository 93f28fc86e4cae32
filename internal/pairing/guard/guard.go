// Package guard 按来源地址限制配对尝试频率，防止在线暴力猜测密钥
//
// 每个主机一条记录：令牌桶限制尝试频率；时间窗口内连续密钥错误达到阈值后
// 封禁该主机一段时间。记录保存在 LRU 中，最久未活动的主机被淘汰。
package guard

import (
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/core/metrics"
)

const (
	DefaultAttemptsPerMinute = 10
	DefaultBurst             = 5
	DefaultMaxTrackedPeers   = 4096
	DefaultMaxFailures       = 5
	DefaultFailureWindow     = 5 * time.Minute
	DefaultBanDuration       = 15 * time.Minute
)

// Config 限流配置
type Config struct {
	Enabled           bool
	AttemptsPerMinute int
	Burst             int
	MaxTrackedPeers   int

	MaxFailures   int           // 窗口内允许的密钥错误次数
	FailureWindow time.Duration // 失败计数窗口
	BanDuration   time.Duration // 封禁时长

	Now    func() time.Time
	Logger corelog.Logger
}

type peer struct {
	limiter *rate.Limiter

	mu          sync.Mutex
	failures    []time.Time
	bannedUntil time.Time
}

// Guard 暴力猜测防护
type Guard struct {
	enabled       bool
	limit         rate.Limit
	burst         int
	maxFailures   int
	failureWindow time.Duration
	banDuration   time.Duration
	now           func() time.Time
	peers         *lru.Cache[string, *peer]
	logger        corelog.Logger
}

// New 创建防护器
func New(cfg Config) (*Guard, error) {
	if cfg.AttemptsPerMinute <= 0 {
		cfg.AttemptsPerMinute = DefaultAttemptsPerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.MaxTrackedPeers <= 0 {
		cfg.MaxTrackedPeers = DefaultMaxTrackedPeers
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = DefaultFailureWindow
	}
	if cfg.BanDuration <= 0 {
		cfg.BanDuration = DefaultBanDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = corelog.Default()
	}

	cache, err := lru.New[string, *peer](cfg.MaxTrackedPeers)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeConfigError, "failed to create peer cache")
	}
	return &Guard{
		enabled:       cfg.Enabled,
		limit:         rate.Every(time.Minute / time.Duration(cfg.AttemptsPerMinute)),
		burst:         cfg.Burst,
		maxFailures:   cfg.MaxFailures,
		failureWindow: cfg.FailureWindow,
		banDuration:   cfg.BanDuration,
		now:           cfg.Now,
		peers:         cache,
		logger:        cfg.Logger,
	}, nil
}

func (g *Guard) peer(host string) *peer {
	p, ok := g.peers.Get(host)
	if ok {
		return p
	}
	p = &peer{limiter: rate.NewLimiter(g.limit, g.burst)}
	// 并发首次访问时以先写入者为准
	if prev, found, _ := g.peers.PeekOrAdd(host, p); found {
		return prev
	}
	return p
}

// Allow 检查封禁并消耗 host 的一个令牌，被拒绝时返回 RATE_LIMITED
func (g *Guard) Allow(host string) error {
	if g == nil || !g.enabled {
		return nil
	}
	p := g.peer(host)
	now := g.now()

	p.mu.Lock()
	until := p.bannedUntil
	p.mu.Unlock()
	if now.Before(until) {
		metrics.AttemptRateLimited()
		return coreerrors.Newf(coreerrors.CodeRateLimited, "%s is locked out until %s", host, until.Format(time.RFC3339))
	}

	if !p.limiter.AllowN(now, 1) {
		metrics.AttemptRateLimited()
		g.logger.Warnf("guard: pairing attempts from %s rate limited", host)
		return coreerrors.Newf(coreerrors.CodeRateLimited, "too many pairing attempts from %s", host)
	}
	return nil
}

// RecordFailure 记录一次密钥错误，达到阈值时封禁 host 并返回 true
func (g *Guard) RecordFailure(host string) bool {
	if g == nil || !g.enabled {
		return false
	}
	p := g.peer(host)
	now := g.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := now.Add(-g.failureWindow)
	kept := p.failures[:0]
	for _, at := range p.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	p.failures = append(kept, now)
	if len(p.failures) < g.maxFailures {
		return false
	}

	p.failures = nil
	p.bannedUntil = now.Add(g.banDuration)
	metrics.HostBanned()
	g.logger.Warnf("guard: %s locked out for %s after %d wrong keys", host, g.banDuration, g.maxFailures)
	return true
}

// Forgive 配对成功后清除 host 的记录
func (g *Guard) Forgive(host string) {
	if g == nil || !g.enabled {
		return
	}
	g.peers.Remove(host)
}

// Tracked 当前跟踪的主机数
func (g *Guard) Tracked() int {
	if g == nil {
		return 0
	}
	return g.peers.Len()
}

// Banned 当前处于封禁期的主机数
func (g *Guard) Banned() int {
	if g == nil {
		return 0
	}
	now := g.now()
	n := 0
	for _, host := range g.peers.Keys() {
		p, ok := g.peers.Peek(host)
		if !ok {
			continue
		}
		p.mu.Lock()
		if now.Before(p.bannedUntil) {
			n++
		}
		p.mu.Unlock()
	}
	return n
}

// HostOf 取地址中的主机部分，无法解析时原样返回
func HostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	s := addr.String()
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		return s
	}
	return host
}
