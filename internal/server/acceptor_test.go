package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fsanano/marketplace/internal/repository"
	"fsanano/marketplace/internal/service"
	"fsanano/marketplace/internal/session"
	"fsanano/marketplace/internal/sidecar"
)

type running struct {
	acceptor *Acceptor
	store    *repository.Store
	cancel   context.CancelFunc
	done     chan error
}

func startAcceptor(t *testing.T) *running {
	t.Helper()
	store, err := repository.Open(t.TempDir(), repository.Options{})
	require.NoError(t, err)
	svc := service.NewMarketService(store)

	a := New(Config{SessionAddr: "127.0.0.1:0", SidecarAddr: "127.0.0.1:0"},
		session.NewEngine(svc, nil), sidecar.NewServer(store.Blobs, nil), nil)
	require.NoError(t, a.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{acceptor: a, store: store, cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- a.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-r.done
	})
	return r
}

func (r *running) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.done:
		r.done <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("acceptor did not stop")
	}
	return nil
}

// dialSession connects and reads up to the main menu prompt.
func dialSession(t *testing.T, addr net.Addr) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Welcome to the Marketplace Server!\n", line)
	readUntil(t, r, "Please enter your choice (1-3):")
	return conn, r
}

func readUntil(t *testing.T, r *bufio.Reader, want string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err, "waiting for %q", want)
		if strings.TrimRight(line, "\r\n") == want {
			return
		}
	}
}

func TestAcceptor_ConcurrentSessions(t *testing.T) {
	r := startAcceptor(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, rd := dialSession(t, r.acceptor.SessionAddr())
			fmt.Fprintf(conn, "2\nuser%d\npw\n2\n", i)
			readUntil(t, rd, "Account created successfully with starting balance of $100.00")
			fmt.Fprint(conn, "3\n")
			readUntil(t, rd, "Goodbye!")
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		exists, err := r.store.Accounts.Exists(fmt.Sprintf("user%d", i))
		require.NoError(t, err)
		assert.True(t, exists)
	}
	assert.Eventually(t, func() bool {
		s := r.acceptor.Stats()
		return s.TotalSessions == 8 && s.ActiveSessions == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAcceptor_SidecarAlongsideSession(t *testing.T) {
	r := startAcceptor(t)
	_, _ = dialSession(t, r.acceptor.SessionAddr())

	client := sidecar.NewClient(sidecar.Config{Addr: r.acceptor.SidecarAddr().String()})
	payload := []byte("0123456789")
	require.NoError(t, client.Upload(context.Background(), "x.png", bytes.NewReader(payload)))

	var got bytes.Buffer
	_, err := client.Download(context.Background(), "x.png", &got)
	require.NoError(t, err)
	assert.Equal(t, payload, got.Bytes())

	assert.Eventually(t, func() bool {
		s := r.acceptor.Stats()
		return s.TotalTransfers == 2 && s.ActiveTransfers == 0 && s.ActiveSessions == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAcceptor_ShutdownClosesIdleSessions(t *testing.T) {
	r := startAcceptor(t)
	_, rd := dialSession(t, r.acceptor.SessionAddr())

	require.NoError(t, r.stop(t))

	_, err := rd.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)

	_, err = net.DialTimeout("tcp", r.acceptor.SessionAddr().String(), time.Second)
	assert.Error(t, err)
}

func TestAcceptor_ListenFailsWhenPortBusy(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	a := New(Config{SessionAddr: "127.0.0.1:0", SidecarAddr: busy.Addr().String()}, nil, nil, nil)
	assert.Error(t, a.Listen())
}

type failingListener struct {
	net.Listener
	mu       sync.Mutex
	failures int
	calls    []time.Time
}

func (l *failingListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, time.Now())
	if len(l.calls) <= l.failures {
		return nil, errors.New("accept: too many open files")
	}
	return nil, net.ErrClosed
}

func TestAcceptor_AcceptErrorsBackOff(t *testing.T) {
	a := New(Config{}, nil, nil, nil)
	ln := &failingListener{failures: 4}

	start := time.Now()
	err := a.acceptLoop(context.Background(), listener{kind: "session", ln: ln, stats: &a.sessionStats})
	require.NoError(t, err)

	require.Len(t, ln.calls, 5)
	// 5ms + 10ms + 20ms + 40ms between the failing calls
	assert.GreaterOrEqual(t, time.Since(start), 75*time.Millisecond)
	assert.GreaterOrEqual(t, ln.calls[4].Sub(ln.calls[3]), 40*time.Millisecond)
}

func TestAcceptor_AcceptBackoffStopsOnShutdown(t *testing.T) {
	a := New(Config{}, nil, nil, nil)
	ln := &failingListener{failures: 1000}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.acceptLoop(ctx, listener{kind: "session", ln: ln, stats: &a.sessionStats})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("accept loop did not stop")
	}
}
