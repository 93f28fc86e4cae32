package tunnel

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
	"letmego-core/internal/core/metrics"
	"letmego-core/internal/core/safe"
)

const (
	receiveBuffer     = 64
	controlBuffer     = 16
	writeTimeout      = 10 * time.Second
	closeFrameTimeout = 200 * time.Millisecond
)

// Hooks 隧道事件回调，在读循环 goroutine 中调用，必须快速返回
type Hooks struct {
	OnHeartbeatAck func(seq uint64, sent time.Time)
}

type controlFrame struct {
	t       FrameType
	payload []byte
}

// Conn 握手完成后的加密隧道
type Conn struct {
	raw       net.Conn
	sessionID string
	logger    corelog.Logger

	writeMu sync.Mutex
	send    *cipherState
	recv    *cipherState

	incoming chan []byte
	control  chan controlFrame
	closed   chan struct{} // 关闭开始
	done     chan struct{} // 读循环退出

	hooks     Hooks
	startOnce sync.Once
	closeOnce sync.Once
	closing   atomic.Bool
	dropped   atomic.Uint64

	mu  sync.Mutex
	err error
}

func newConn(raw net.Conn, sessionID string, send, recv *cipherState, logger corelog.Logger) *Conn {
	if logger == nil {
		logger = corelog.Default()
	}
	return &Conn{
		raw:       raw,
		sessionID: sessionID,
		logger:    logger.WithField("session", sessionID),
		send:      send,
		recv:      recv,
		incoming:  make(chan []byte, receiveBuffer),
		control:   make(chan controlFrame, controlBuffer),
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SessionID 会话 ID
func (c *Conn) SessionID() string { return c.sessionID }

// RemoteAddr 对端地址
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Start 启动读循环与控制帧写循环，只生效一次
func (c *Conn) Start(hooks Hooks) {
	c.startOnce.Do(func() {
		c.hooks = hooks
		safe.GoWithCallback("tunnel-read-"+c.sessionID, c.readLoop, func(interface{}) {
			c.fail(coreerrors.New(coreerrors.CodeInternal, "tunnel read loop panicked"))
		})
		safe.Go("tunnel-control-"+c.sessionID, c.controlLoop)
	})
}

// Send 发送一帧数据
func (c *Conn) Send(data []byte) error {
	if len(data) > MaxPayload {
		return coreerrors.Newf(coreerrors.CodeInvalidParam, "payload too large: %d > %d", len(data), MaxPayload)
	}
	if c.closing.Load() {
		return c.closedError()
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	if err := c.writeSealed(FrameData, buf); err != nil {
		c.fail(coreerrors.Wrap(err, coreerrors.CodeTransportFailure, "write data frame"))
		return c.closedError()
	}
	return nil
}

// Receive 返回数据帧 channel，隧道关闭后 channel 被关闭。
// 队列满时新到达的数据帧被丢弃。
func (c *Conn) Receive() <-chan []byte {
	return c.incoming
}

// SendHeartbeat 发送心跳，对端读循环会自动回复 HeartbeatAck
func (c *Conn) SendHeartbeat(seq uint64, sent time.Time) error {
	if c.closing.Load() {
		return c.closedError()
	}
	if err := c.writeSealed(FrameHeartbeat, encodeHeartbeat(seq, sent)); err != nil {
		c.fail(coreerrors.Wrap(err, coreerrors.CodeTransportFailure, "write heartbeat"))
		return c.closedError()
	}
	return nil
}

// Close 主动断开，等价于 CloseWithReason(DISCONNECTED)
func (c *Conn) Close() error {
	return c.CloseWithReason(coreerrors.CodeDisconnected)
}

// CloseWithReason 尽力发送 Close 帧后关闭底层连接，可重复调用
func (c *Conn) CloseWithReason(code coreerrors.ErrorCode) error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.setErr(coreerrors.Newf(coreerrors.CodeDisconnected, "closed locally (%s)", code))
		close(c.closed)

		// 让阻塞中的写操作尽快超时释放写锁
		_ = c.raw.SetWriteDeadline(time.Now().Add(closeFrameTimeout))
		if err := c.writeSealedWithTimeout(FrameClose, []byte(code), closeFrameTimeout); err != nil {
			c.logger.Debugf("tunnel: close frame not delivered: %v", err)
		}
		_ = c.raw.Close()
		c.finishIfNotStarted()
	})
	return nil
}

// Done 读循环退出后关闭
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err 关闭原因，隧道仍然打开时返回 nil
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) setErr(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
}

func (c *Conn) closedError() error {
	if err := c.Err(); err != nil {
		return coreerrors.Wrap(err, coreerrors.GetCode(err), "tunnel closed")
	}
	return coreerrors.ErrDisconnected
}

// fail 因错误关闭，不发送 Close 帧
func (c *Conn) fail(err error) {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.setErr(err)
		close(c.closed)
		_ = c.raw.Close()
		c.finishIfNotStarted()
	})
}

// 读循环从未启动时由关闭路径负责关闭 channel
func (c *Conn) finishIfNotStarted() {
	c.startOnce.Do(func() {
		close(c.incoming)
		close(c.done)
	})
}

func (c *Conn) writeSealed(t FrameType, plaintext []byte) error {
	return c.writeSealedWithTimeout(t, plaintext, writeTimeout)
}

func (c *Conn) writeSealedWithTimeout(t FrameType, plaintext []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ciphertext, err := c.send.seal(t, plaintext)
	if err != nil {
		return err
	}
	_ = c.raw.SetWriteDeadline(time.Now().Add(timeout))
	defer c.raw.SetWriteDeadline(time.Time{})
	return writeFrame(c.raw, t, ciphertext)
}

func (c *Conn) readLoop() {
	defer func() {
		if n := c.dropped.Load(); n > 0 {
			c.logger.Infof("tunnel: %d unread data frames dropped", n)
		}
		close(c.incoming)
		close(c.done)
	}()

	for {
		t, payload, err := readFrame(c.raw)
		if err != nil {
			if !c.closing.Load() {
				c.fail(coreerrors.Wrap(err, coreerrors.CodeTransportFailure, "read frame"))
			}
			return
		}

		plaintext, err := c.recv.open(t, payload)
		if err != nil {
			c.fail(coreerrors.Wrap(err, coreerrors.CodeTransportFailure, "decrypt frame"))
			return
		}

		switch t {
		case FrameData:
			// 读循环同时承担心跳应答，不能因为没人消费数据而阻塞
			select {
			case c.incoming <- plaintext:
			default:
				if c.dropped.Add(1) == 1 {
					c.logger.Warnf("tunnel: receive queue full, dropping data frames")
				}
				metrics.DataFrameDropped()
			}

		case FrameHeartbeat:
			select {
			case c.control <- controlFrame{t: FrameHeartbeatAck, payload: plaintext}:
			default:
				c.logger.Warnf("tunnel: control queue full, heartbeat ack dropped")
			}

		case FrameHeartbeatAck:
			seq, sent, err := decodeHeartbeat(plaintext)
			if err != nil {
				c.fail(coreerrors.Wrap(err, coreerrors.CodeTransportFailure, "decode heartbeat ack"))
				return
			}
			if c.hooks.OnHeartbeatAck != nil {
				c.hooks.OnHeartbeatAck(seq, sent)
			}

		case FrameClose:
			reason := string(plaintext)
			c.logger.Debugf("tunnel: peer closed (%s)", reason)
			c.fail(coreerrors.Newf(coreerrors.CodeDisconnected, "closed by peer (%s)", reason))
			return

		default:
			c.fail(coreerrors.Newf(coreerrors.CodeTransportFailure, "unexpected %s frame", t))
			return
		}
	}
}

// controlLoop 代替读循环写出 HeartbeatAck，避免读写互相阻塞
func (c *Conn) controlLoop() {
	for {
		select {
		case <-c.closed:
			return
		case f := <-c.control:
			if err := c.writeSealed(f.t, f.payload); err != nil {
				c.fail(coreerrors.Wrap(err, coreerrors.CodeTransportFailure, "write control frame"))
				return
			}
		}
	}
}
