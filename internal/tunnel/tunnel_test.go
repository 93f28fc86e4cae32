package tunnel

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "letmego-core/internal/core/errors"
	corelog "letmego-core/internal/core/log"
)

type serverResult struct {
	conn  *Conn
	hello *Hello
	err   error
}

// runServer 在 goroutine 中执行 Anchor 侧握手，密钥校验失败时回复 KEY_MISMATCH
func runServer(t *testing.T, raw net.Conn, key string) <-chan serverResult {
	t.Helper()
	out := make(chan serverResult, 1)
	go func() {
		hs := NewServerHandshake(raw, "Studio", corelog.NewNopLogger())
		hello, err := hs.ReadHello()
		if err != nil {
			out <- serverResult{err: err}
			return
		}
		if !VerifyProof(key, hello.Nonce, hello.Ephemeral, hello.Proof) {
			_ = hs.Reject(coreerrors.ErrKeyMismatch)
			out <- serverResult{hello: hello, err: coreerrors.ErrKeyMismatch}
			return
		}
		if err := hs.Welcome("sess_test", key); err != nil {
			out <- serverResult{err: err}
			return
		}
		if err := hs.ReadConfirm(); err != nil {
			_ = hs.Reject(err)
			out <- serverResult{err: err}
			return
		}
		conn, err := hs.Ready(2 * time.Second)
		out <- serverResult{conn: conn, hello: hello, err: err}
	}()
	return out
}

func handshakePair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, s := net.Pipe()
	srv := runServer(t, a, "7K3P9Q")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, est, err := ClientHandshake(ctx, s, ClientConfig{Key: "7K3P9Q", Name: "MacBook", DeviceType: "laptop"})
	require.NoError(t, err)
	assert.Equal(t, "sess_test", est.SessionID)
	assert.Equal(t, "Studio", est.AnchorName)
	assert.Equal(t, 2*time.Second, est.HeartbeatInterval)

	res := <-srv
	require.NoError(t, res.err)
	assert.Equal(t, "MacBook", res.hello.Name)
	assert.Equal(t, "laptop", res.hello.DeviceType)

	t.Cleanup(func() {
		_ = client.Close()
		_ = res.conn.Close()
	})
	return res.conn, client
}

func TestHandshake_DataBothWays(t *testing.T) {
	server, client := handshakePair(t)
	server.Start(Hooks{})
	client.Start(Hooks{})

	require.NoError(t, client.Send([]byte("ping")))
	select {
	case got := <-server.Receive():
		assert.Equal(t, []byte("ping"), got)
	case <-time.After(time.Second):
		t.Fatal("server did not receive data")
	}

	require.NoError(t, server.Send([]byte("pong")))
	select {
	case got := <-client.Receive():
		assert.Equal(t, []byte("pong"), got)
	case <-time.After(time.Second):
		t.Fatal("client did not receive data")
	}
}

func TestHandshake_WrongKeyRejected(t *testing.T) {
	a, s := net.Pipe()
	defer a.Close()
	defer s.Close()
	srv := runServer(t, a, "7K3P9Q")

	_, _, err := ClientHandshake(context.Background(), s, ClientConfig{Key: "7k3p9q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, coreerrors.ErrKeyMismatch)

	res := <-srv
	assert.ErrorIs(t, res.err, coreerrors.ErrKeyMismatch)
}

func TestHandshake_ContextCancelled(t *testing.T) {
	a, s := net.Pipe()
	defer a.Close()
	defer s.Close()

	// 对端不响应
	go func() {
		_, _, _ = readFrame(a)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, _, err := ClientHandshake(ctx, s, ClientConfig{Key: "7K3P9Q"})
	require.Error(t, err)
	assert.Equal(t, coreerrors.CodeDisconnected, coreerrors.GetCode(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandshake_Timeout(t *testing.T) {
	a, s := net.Pipe()
	defer a.Close()
	defer s.Close()
	go func() {
		_, _, _ = readFrame(a)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := ClientHandshake(ctx, s, ClientConfig{Key: "7K3P9Q"})
	require.Error(t, err)
	assert.Equal(t, coreerrors.CodeHandshakeTimeout, coreerrors.GetCode(err))
}

func TestServerHandshake_CloseWithReasonDuringHandshake(t *testing.T) {
	a, s := net.Pipe()
	defer s.Close()

	go func() {
		hs := NewServerHandshake(a, "Studio", corelog.NewNopLogger())
		hello, err := hs.ReadHello()
		if err != nil {
			return
		}
		_ = hello
		_ = hs.CloseWithReason(coreerrors.CodeHandshakeTimeout)
	}()

	_, _, err := ClientHandshake(context.Background(), s, ClientConfig{Key: "7K3P9Q"})
	require.Error(t, err)
	assert.Equal(t, coreerrors.CodeHandshakeTimeout, coreerrors.GetCode(err))
}

func TestServerHandshake_RejectsGarbage(t *testing.T) {
	a, s := net.Pipe()
	defer a.Close()
	defer s.Close()

	go func() {
		_ = writeFrame(s, FrameData, []byte("not a hello"))
	}()

	hs := NewServerHandshake(a, "Studio", nil)
	_, err := hs.ReadHello()
	require.Error(t, err)
	assert.Equal(t, coreerrors.CodeProtocolError, coreerrors.GetCode(err))
}

func TestConn_HeartbeatAnsweredAutomatically(t *testing.T) {
	server, client := handshakePair(t)

	acks := make(chan uint64, 4)
	server.Start(Hooks{})
	client.Start(Hooks{OnHeartbeatAck: func(seq uint64, sent time.Time) {
		acks <- seq
	}})

	require.NoError(t, client.SendHeartbeat(7, time.Now()))
	select {
	case seq := <-acks:
		assert.Equal(t, uint64(7), seq)
	case <-time.After(time.Second):
		t.Fatal("heartbeat not acknowledged")
	}
}

func TestConn_UnreadDataDoesNotStallHeartbeats(t *testing.T) {
	server, client := handshakePair(t)

	acks := make(chan uint64, 4)
	server.Start(Hooks{})
	client.Start(Hooks{OnHeartbeatAck: func(seq uint64, sent time.Time) {
		acks <- seq
	}})

	// 服务端从不读取 Receive()
	for i := 0; i < receiveBuffer*3; i++ {
		require.NoError(t, client.Send([]byte("x")))
	}
	require.NoError(t, client.SendHeartbeat(1, time.Now()))
	select {
	case seq := <-acks:
		assert.Equal(t, uint64(1), seq)
	case <-time.After(time.Second):
		t.Fatal("heartbeat not acknowledged while receive queue is full")
	}

	assert.Equal(t, uint64(receiveBuffer*2), server.dropped.Load())
	assert.Len(t, server.Receive(), receiveBuffer)
	assert.NoError(t, server.Err())
}

func TestConn_CloseNotifiesPeer(t *testing.T) {
	server, client := handshakePair(t)
	server.Start(Hooks{})
	client.Start(Hooks{})

	require.NoError(t, client.CloseWithReason(coreerrors.CodeDisconnected))
	require.NoError(t, client.Close(), "second close is a no-op")

	select {
	case <-server.Done():
	case <-time.After(time.Second):
		t.Fatal("server tunnel not closed")
	}
	assert.Equal(t, coreerrors.CodeDisconnected, coreerrors.GetCode(server.Err()))

	_, open := <-server.Receive()
	assert.False(t, open, "receive channel should be closed")

	err := client.Send([]byte("late"))
	assert.Equal(t, coreerrors.CodeDisconnected, coreerrors.GetCode(err))
}

func TestConn_TransportFailure(t *testing.T) {
	a, s := net.Pipe()
	srv := runServer(t, a, "7K3P9Q")
	client, _, err := ClientHandshake(context.Background(), s, ClientConfig{Key: "7K3P9Q"})
	require.NoError(t, err)
	res := <-srv
	require.NoError(t, res.err)

	res.conn.Start(Hooks{})
	client.Start(Hooks{})

	// 直接关闭底层连接，不发送 Close 帧
	_ = s.Close()

	select {
	case <-res.conn.Done():
	case <-time.After(time.Second):
		t.Fatal("server tunnel not closed")
	}
	assert.Equal(t, coreerrors.CodeTransportFailure, coreerrors.GetCode(res.conn.Err()))
}

func TestConn_TamperedFrameFails(t *testing.T) {
	a, s := net.Pipe()
	srv := runServer(t, a, "7K3P9Q")
	client, _, err := ClientHandshake(context.Background(), s, ClientConfig{Key: "7K3P9Q"})
	require.NoError(t, err)
	res := <-srv
	require.NoError(t, res.err)
	defer client.Close()
	res.conn.Start(Hooks{})

	// 绕过加密直接写入伪造的数据帧
	go func() { _ = writeFrame(s, FrameData, bytes.Repeat([]byte{0x42}, 32)) }()

	select {
	case <-res.conn.Done():
	case <-time.After(time.Second):
		t.Fatal("tampered frame not detected")
	}
	assert.Equal(t, coreerrors.CodeTransportFailure, coreerrors.GetCode(res.conn.Err()))
}

func TestConn_PayloadLimit(t *testing.T) {
	_, client := handshakePair(t)

	err := client.Send(make([]byte, MaxPayload+1))
	assert.Equal(t, coreerrors.CodeInvalidParam, coreerrors.GetCode(err))
}

func TestConn_CloseBeforeStart(t *testing.T) {
	_, client := handshakePair(t)

	require.NoError(t, client.Close())
	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
	_, open := <-client.Receive()
	assert.False(t, open)
}

func TestProof(t *testing.T) {
	nonce := []byte("0123456789abcdef")
	eph := bytes.Repeat([]byte{1}, 32)

	proof := ComputeProof("7K3P9Q", nonce, eph)
	assert.True(t, VerifyProof("7K3P9Q", nonce, eph, proof))
	assert.False(t, VerifyProof("7K3P9R", nonce, eph, proof))
	assert.False(t, VerifyProof("7K3P9Q", []byte("fedcba9876543210"), eph, proof))
}

func TestFingerprint(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	fp := id.Fingerprint()
	assert.Len(t, fp, 8*2+7)
	assert.Equal(t, fp, Fingerprint(id.Public()))
	assert.Equal(t, "", Fingerprint(nil))
}

func TestFrame_RejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{byte(FrameData), 0xff, 0xff, 0xff, 0xff})

	_, _, err := readFrame(&buf)
	assert.Equal(t, coreerrors.CodeProtocolError, coreerrors.GetCode(err))
}
