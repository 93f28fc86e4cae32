// Package session 实现单个会话的状态机与心跳监督
//
// 状态迁移：Pending → Authenticating → Established ⇄ Degraded → Closed。
// Closed 为终态，每个会话只有一个关闭原因。
package session

import (
	"context"
	"slices"
	"sync"
	"time"

	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/core/metrics"
	"letmego-core/internal/core/safe"
)

const (
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultGraceWindow       = 4 * time.Second
	DefaultHandshakeTimeout  = 5 * time.Second
	DefaultLatencyAlpha      = 0.25

	minTick = 5 * time.Millisecond
)

// Closer 会话持有的传输句柄
type Closer interface {
	CloseWithReason(code coreerrors.ErrorCode) error
}

// Tunnel 会话建立后监督的加密隧道
type Tunnel interface {
	Closer
	SendHeartbeat(seq uint64, sent time.Time) error
	Done() <-chan struct{}
	Err() error
}

// Config 会话配置
type Config struct {
	ID            string
	KeyGeneration uint64
	Peer          Peer

	HeartbeatInterval time.Duration
	GraceWindow       time.Duration
	HandshakeTimeout  time.Duration
	LatencyAlpha      float64

	Logger corelog.Logger
}

type ack struct {
	seq uint64
	at  time.Time
}

// Supervisor 会话监督者
type Supervisor struct {
	cfg    Config
	logger corelog.Logger

	notifyMu sync.Mutex // 串行化状态通知，保证观察者看到的顺序与迁移顺序一致

	mu          sync.Mutex
	state       State
	reason      coreerrors.ErrorCode
	cause       error
	handle      Closer
	latency     time.Duration
	hasLatency  bool
	lastSeen    time.Time
	createdAt   time.Time
	observers   []func(Change)
	timer       *time.Timer
	loopStarted bool

	ctx      context.Context
	cancel   context.CancelFunc
	acks     chan ack
	closed   chan struct{}
	loopDone chan struct{}
}

// New 创建处于 Pending 状态的会话
func New(cfg Config) *Supervisor {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.LatencyAlpha <= 0 || cfg.LatencyAlpha > 1 {
		cfg.LatencyAlpha = DefaultLatencyAlpha
	}
	logger := cfg.Logger
	if logger == nil {
		logger = corelog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:       cfg,
		logger:    logger.WithField("session", cfg.ID),
		state:     StatePending,
		createdAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		acks:      make(chan ack, 8),
		closed:    make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
}

// ID 会话 ID
func (s *Supervisor) ID() string { return s.cfg.ID }

// KeyGeneration 会话所属密钥的代数
func (s *Supervisor) KeyGeneration() uint64 { return s.cfg.KeyGeneration }

// OnStateChange 注册状态观察者
// 观察者在发生迁移的 goroutine 中同步调用，不能在其中调用 Disconnect
func (s *Supervisor) OnStateChange(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// State 当前状态
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot 当前快照
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Supervisor) snapshotLocked() Snapshot {
	return Snapshot{
		ID:            s.cfg.ID,
		Peer:          s.cfg.Peer,
		State:         s.state,
		CloseReason:   s.reason,
		Latency:       s.latency,
		LastSeen:      s.lastSeen,
		CreatedAt:     s.createdAt,
		KeyGeneration: s.cfg.KeyGeneration,
	}
}

// Done 会话关闭后关闭
func (s *Supervisor) Done() <-chan struct{} {
	return s.closed
}

// Err 关闭原因，未关闭时返回 nil
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		return nil
	}
	return s.closeErrorLocked()
}

func (s *Supervisor) closeErrorLocked() error {
	if s.cause != nil {
		return coreerrors.Wrap(s.cause, s.reason, "session closed")
	}
	return coreerrors.New(s.reason, "session closed")
}

// Begin 传输句柄创建完成：Pending → Authenticating，并开始握手计时
func (s *Supervisor) Begin(handle Closer) error {
	ok := s.transition(StateAuthenticating, "", nil, func() {
		s.handle = handle
		s.timer = time.AfterFunc(s.cfg.HandshakeTimeout, s.handshakeExpired)
	})
	if !ok {
		return s.stateError("begin authentication")
	}
	return nil
}

// Establish 握手确认：Authenticating → Established，启动心跳循环
// 握手已超时或会话已关闭时返回关闭原因
func (s *Supervisor) Establish(t Tunnel) error {
	ok := s.transition(StateEstablished, "", nil, func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		s.handle = t
		s.lastSeen = time.Now()
		s.loopStarted = true
	})
	if !ok {
		return s.stateError("establish")
	}
	safe.GoWithCallback("session-"+s.cfg.ID, func() { s.loop(t) }, func(interface{}) {
		s.Close(coreerrors.CodeTransportFailure, coreerrors.New(coreerrors.CodeInternal, "supervisor loop panicked"))
	})
	return nil
}

func (s *Supervisor) stateError(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return s.closeErrorLocked()
	}
	return coreerrors.Newf(coreerrors.CodeInvalidState, "cannot %s in state %s", op, s.state)
}

// HeartbeatAck 隧道收到心跳回复时调用
func (s *Supervisor) HeartbeatAck(seq uint64, _ time.Time) {
	select {
	case s.acks <- ack{seq: seq, at: time.Now()}:
	default:
	}
}

// handshakeExpired 握手计时器回调，计时器停止前已 Established 的会话不受影响
func (s *Supervisor) handshakeExpired() {
	s.closeFrom(coreerrors.CodeHandshakeTimeout, nil, StatePending, StateAuthenticating)
}

// Close 以 code 关闭会话，不等待心跳循环退出；已关闭时返回 false
func (s *Supervisor) Close(code coreerrors.ErrorCode, cause error) bool {
	return s.closeFrom(code, cause)
}

// closeFrom 仅当当前状态属于 from 时关闭，from 为空表示任意非终态
func (s *Supervisor) closeFrom(code coreerrors.ErrorCode, cause error, from ...State) bool {
	var handle Closer
	var loopStarted bool
	ok := s.transitionFrom(from, StateClosed, code, cause, func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		handle = s.handle
		s.handle = nil
		loopStarted = s.loopStarted
	})
	if !ok {
		return false
	}

	s.cancel()
	close(s.closed)
	if !loopStarted {
		close(s.loopDone)
	}
	if handle != nil {
		if err := handle.CloseWithReason(code); err != nil {
			s.logger.Debugf("session: close transport: %v", err)
		}
	}
	return true
}

// Disconnect 主动断开并等待心跳循环退出
func (s *Supervisor) Disconnect() {
	s.Close(coreerrors.CodeDisconnected, nil)
	<-s.loopDone
}

func (s *Supervisor) transition(to State, code coreerrors.ErrorCode, cause error, mutate func()) bool {
	return s.transitionFrom(nil, to, code, cause, mutate)
}

func (s *Supervisor) transitionFrom(allowed []State, to State, code coreerrors.ErrorCode, cause error, mutate func()) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) || (len(allowed) > 0 && !slices.Contains(allowed, from)) {
		s.mu.Unlock()
		return false
	}
	if mutate != nil {
		mutate()
	}
	s.state = to
	if to == StateClosed {
		s.reason = code
		s.cause = cause
	}
	snap := s.snapshotLocked()
	observers := make([]func(Change), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	if to == StateClosed {
		s.logger.Infof("session: %s -> %s (%s)", from, to, code)
	} else {
		s.logger.Debugf("session: %s -> %s", from, to)
	}

	change := Change{From: from, To: to, Snapshot: snap}
	for _, fn := range observers {
		s.notify(fn, change)
	}
	return true
}

func (s *Supervisor) notify(fn func(Change), change Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("session: state observer panicked: %v", r)
		}
	}()
	fn(change)
}

func (s *Supervisor) recordLatency(rtt time.Duration, at time.Time) {
	s.mu.Lock()
	if !s.hasLatency {
		s.latency = rtt
		s.hasLatency = true
	} else {
		a := s.cfg.LatencyAlpha
		s.latency = time.Duration(a*float64(rtt) + (1-a)*float64(s.latency))
	}
	s.lastSeen = at
	s.mu.Unlock()

	metrics.ObserveHeartbeatRTT(float64(rtt) / float64(time.Millisecond))
}

// loop 心跳循环，是 Established 之后唯一驱动状态迁移的 goroutine
func (s *Supervisor) loop(t Tunnel) {
	defer close(s.loopDone)

	interval := s.cfg.HeartbeatInterval
	tick := interval / 4
	if tick < minTick {
		tick = minTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var (
		seq           uint64
		lastSent      time.Time
		degradedSince time.Time
		outstanding   = make(map[uint64]time.Time)
	)

	send := func(now time.Time) bool {
		seq++
		outstanding[seq] = now
		lastSent = now
		if err := t.SendHeartbeat(seq, now); err != nil {
			s.Close(coreerrors.CodeTransportFailure, err)
			return false
		}
		return true
	}

	select {
	case <-s.ctx.Done():
		return
	default:
	}
	if !send(time.Now()) {
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-t.Done():
			err := t.Err()
			code := coreerrors.CodeTransportFailure
			if err == nil || coreerrors.GetCode(err) == coreerrors.CodeDisconnected {
				code = coreerrors.CodeDisconnected
			}
			s.Close(code, err)
			return

		case a := <-s.acks:
			sent, ok := outstanding[a.seq]
			if !ok {
				continue
			}
			for k := range outstanding {
				if k <= a.seq {
					delete(outstanding, k)
				}
			}
			s.recordLatency(a.at.Sub(sent), a.at)
			if !degradedSince.IsZero() {
				if s.transition(StateEstablished, "", nil, nil) {
					degradedSince = time.Time{}
				}
			}

		case now := <-ticker.C:
			if now.Sub(lastSent) >= interval {
				if !send(now) {
					return
				}
			}

			if degradedSince.IsZero() {
				if oldest := oldestOf(outstanding); !oldest.IsZero() && now.Sub(oldest) > interval {
					if s.transition(StateDegraded, "", nil, nil) {
						degradedSince = now
					}
				}
			} else if now.Sub(degradedSince) >= s.cfg.GraceWindow {
				s.Close(coreerrors.CodePeerUnreachable, nil)
				return
			}
		}
	}
}

func oldestOf(m map[uint64]time.Time) time.Time {
	var oldest time.Time
	for _, t := range m {
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	return oldest
}
