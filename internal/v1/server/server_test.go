package server

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mabdela/Text-Conferencing-App/internal/v1/auth"
	"github.com/mabdela/Text-Conferencing-App/internal/v1/protocol"
	"github.com/mabdela/Text-Conferencing-App/internal/v1/ratelimit"
)

func TestMain(m *testing.M) {
	// The ulule/limiter memory store starts a cleaner goroutine that runs
	// for the life of the process and cannot be stopped.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/ulule/limiter/v3/drivers/store/memory.(*cleaner).Run"))
}

var testUsers = map[string]string{
	"alice": "pw",
	"bob":   "hunter2",
	"carol": "pw",
}

// startTestServer runs a Server on a loopback port and tears it down with
// the test.
func startTestServer(t *testing.T, opts ...Option) (*Server, string) {
	t.Helper()
	s := New(auth.NewDirectory(testUsers), opts...)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(l)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, s.Shutdown(ctx))
		<-done
	})
	return s, l.Addr().String()
}

// wireClient speaks the packet protocol directly over a raw socket.
type wireClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialServer(t *testing.T, addr string) *wireClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wireClient{t: t, conn: conn, r: bufio.NewReaderSize(conn, protocol.MaxPacketSize)}
}

func (w *wireClient) send(p *protocol.Packet) {
	w.t.Helper()
	buf, err := protocol.Marshal(p)
	require.NoError(w.t, err)
	_, err = w.conn.Write(buf)
	require.NoError(w.t, err)
}

func (w *wireClient) sendRaw(buf []byte) {
	w.t.Helper()
	_, err := w.conn.Write(buf)
	require.NoError(w.t, err)
}

func (w *wireClient) recv() *protocol.Packet {
	w.t.Helper()
	require.NoError(w.t, w.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	p, err := protocol.ReadPacket(w.r)
	require.NoError(w.t, err)
	return p
}

func (w *wireClient) roundTrip(p *protocol.Packet) *protocol.Packet {
	w.t.Helper()
	w.send(p)
	return w.recv()
}

func (w *wireClient) login(user, pass string) {
	w.t.Helper()
	resp := w.roundTrip(protocol.NewLoginPacket(user, pass))
	require.Equal(w.t, protocol.LoginAck, resp.Type)
	require.Equal(w.t, user, string(resp.Data))
}

// expectSilent asserts that nothing arrives within d.
func (w *wireClient) expectSilent(d time.Duration) {
	w.t.Helper()
	require.Zero(w.t, w.r.Buffered(), "bytes already waiting")
	require.NoError(w.t, w.conn.SetReadDeadline(time.Now().Add(d)))
	_, err := w.r.ReadByte()
	nerr, ok := err.(net.Error)
	require.True(w.t, ok && nerr.Timeout(), "expected read timeout, got %v", err)
}

func TestAdmissionBoundBlocksOverflow(t *testing.T) {
	s, addr := startTestServer(t, WithMaxConnections(2))

	c1 := dialServer(t, addr)
	c1.login("alice", "pw")
	c2 := dialServer(t, addr)
	c2.login("bob", "hunter2")

	// The third connect completes at TCP level (listen backlog) but no
	// worker picks it up while the bound is reached.
	c3 := dialServer(t, addr)
	c3.send(protocol.NewLoginPacket("carol", "pw"))
	c3.expectSilent(200 * time.Millisecond)
	assert.Equal(t, 2, s.ActiveConnections())

	// Freeing a slot admits the queued connection within a bounded time.
	c1.send(protocol.NewLogoutPacket("alice"))
	resp := c3.recv()
	assert.Equal(t, protocol.LoginAck, resp.Type)
}

func TestConnRateLimit(t *testing.T) {
	cl, err := ratelimit.NewConnLimiter("1-M", true)
	require.NoError(t, err)
	_, addr := startTestServer(t, WithConnLimiter(cl))

	c1 := dialServer(t, addr)
	c1.login("alice", "pw")

	// The second connect from the same IP is dropped before a worker runs.
	c2 := dialServer(t, addr)
	buf := make([]byte, 1)
	require.NoError(t, c2.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = c2.conn.Read(buf)
	assert.Error(t, err, "rate-limited connection should be closed")
}

func TestShutdownClosesLiveConnections(t *testing.T) {
	s := New(auth.NewDirectory(testUsers))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(l)
	}()

	c := dialServer(t, l.Addr().String())
	c.login("alice", "pw")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	<-done

	// The worker closed our socket during shutdown.
	buf := make([]byte, 1)
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = c.conn.Read(buf)
	assert.Error(t, err)

	// Shutdown is idempotent.
	assert.NoError(t, s.Shutdown(ctx))
}

func TestShutdownExpiredContextReturns(t *testing.T) {
	s := New(auth.NewDirectory(testUsers))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(l)
	}()

	c := dialServer(t, l.Addr().String())
	c.login("alice", "pw")

	// An already-expired deadline must not wedge Shutdown, and nothing may
	// keep running on its behalf afterwards; TestMain's leak check covers
	// the latter once the workers drain.
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	err = s.Shutdown(ctx)
	if err != nil {
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}
	<-done

	deadline := time.Now().Add(2 * time.Second)
	for s.ActiveConnections() != 0 {
		require.False(t, time.Now().After(deadline), "workers never drained")
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServeAfterShutdownFails(t *testing.T) {
	s := New(auth.NewDirectory(testUsers))
	require.NoError(t, s.Shutdown(context.Background()))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Error(t, s.Serve(l))
}
