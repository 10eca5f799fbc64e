// Package server accepts marketplace connections on the session and sidecar
// ports and runs one handler per connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fsanano/marketplace/internal/netutil"
)

// ConnHandler serves one accepted connection until the exchange ends.
type ConnHandler interface {
	Serve(ctx context.Context, rw io.ReadWriter, logger *slog.Logger) error
}

// maxAcceptDelay caps the backoff after repeated Accept failures.
const maxAcceptDelay = time.Second

// transferGrace bounds how long an in-flight transfer may run after shutdown starts.
const transferGrace = 5 * time.Second

type Config struct {
	SessionAddr string
	SidecarAddr string
}

type Stats struct {
	ActiveSessions  int64 `json:"active_sessions"`
	TotalSessions   int64 `json:"total_sessions"`
	ActiveTransfers int64 `json:"active_transfers"`
	TotalTransfers  int64 `json:"total_transfers"`
}

type counters struct {
	active atomic.Int64
	total  atomic.Int64
}

type listener struct {
	kind    string
	ln      net.Listener
	handler ConnHandler
	stats   *counters
}

type Acceptor struct {
	config Config
	logger *slog.Logger

	session listener
	sidecar listener

	sessionStats  counters
	transferStats counters

	mu       sync.Mutex
	conns    map[net.Conn]string
	shutdown bool

	// activeConnections tracks in-flight handlers; Serve waits for them.
	activeConnections sync.WaitGroup
}

func New(cfg Config, sessions, transfers ConnHandler, logger *slog.Logger) *Acceptor {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Acceptor{
		config: cfg,
		logger: logger,
		conns:  make(map[net.Conn]string),
	}
	a.session = listener{kind: "session", handler: sessions, stats: &a.sessionStats}
	a.sidecar = listener{kind: "sidecar", handler: transfers, stats: &a.transferStats}
	return a
}

// Listen binds both ports. Either bind failing is fatal and leaves nothing bound.
func (a *Acceptor) Listen() error {
	ln, err := net.Listen("tcp", a.config.SessionAddr)
	if err != nil {
		return fmt.Errorf("listening on session address %s: %w", a.config.SessionAddr, err)
	}
	side, err := net.Listen("tcp", a.config.SidecarAddr)
	if err != nil {
		ln.Close()
		return fmt.Errorf("listening on sidecar address %s: %w", a.config.SidecarAddr, err)
	}
	a.session.ln = ln
	a.sidecar.ln = side
	return nil
}

func (a *Acceptor) SessionAddr() net.Addr { return a.session.ln.Addr() }
func (a *Acceptor) SidecarAddr() net.Addr { return a.sidecar.ln.Addr() }

func (a *Acceptor) Stats() Stats {
	return Stats{
		ActiveSessions:  a.sessionStats.active.Load(),
		TotalSessions:   a.sessionStats.total.Load(),
		ActiveTransfers: a.transferStats.active.Load(),
		TotalTransfers:  a.transferStats.total.Load(),
	}
}

// Serve runs both accept loops until ctx is cancelled. It then stops accepting,
// closes idle sessions, gives transfers a grace period and waits for every handler.
// Listen must have been called.
func (a *Acceptor) Serve(ctx context.Context) error {
	if a.session.ln == nil || a.sidecar.ln == nil {
		return errors.New("acceptor: Listen has not been called")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.acceptLoop(gctx, a.session) })
	g.Go(func() error { return a.acceptLoop(gctx, a.sidecar) })
	g.Go(func() error {
		// Unblock Accept when the context is cancelled.
		<-gctx.Done()
		a.session.ln.Close()
		a.sidecar.ln.Close()
		return nil
	})

	a.logger.Info("marketplace listening", "session", a.SessionAddr().String(), "sidecar", a.SidecarAddr().String())
	err := g.Wait()

	a.closeConnections()
	a.activeConnections.Wait()
	a.logger.Info("acceptor stopped")
	return err
}

func (a *Acceptor) acceptLoop(ctx context.Context, l listener) error {
	var delay time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// back off like net/http.Server so a full fd table does not spin
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			a.logger.Error("accept failed", "listener", l.kind, "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		if !a.track(conn, l.kind) {
			conn.Close()
			continue
		}
		a.activeConnections.Add(1)
		go func() {
			defer a.activeConnections.Done()
			a.handleConnection(ctx, conn, l)
		}()
	}
}

func (a *Acceptor) handleConnection(ctx context.Context, conn net.Conn, l listener) {
	defer a.untrack(conn)
	defer conn.Close()

	l.stats.active.Add(1)
	l.stats.total.Add(1)
	defer l.stats.active.Add(-1)

	logger := a.logger.With("conn", uuid.NewString(), "listener", l.kind, "remote", conn.RemoteAddr().String())
	logger.Debug("connection accepted")

	err := l.handler.Serve(ctx, conn, logger)
	switch {
	case err == nil:
		logger.Debug("connection finished")
	case netutil.IsExpectedCloseError(err) || ctx.Err() != nil:
		logger.Debug("connection closed", "error", err)
	default:
		logger.Warn("connection failed", "error", err)
	}
}

func (a *Acceptor) track(conn net.Conn, kind string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.shutdown {
		return false
	}
	a.conns[conn] = kind
	return true
}

func (a *Acceptor) untrack(conn net.Conn) {
	a.mu.Lock()
	delete(a.conns, conn)
	a.mu.Unlock()
}

// closeConnections interrupts handlers blocked on the network. A store operation
// already running completes; the handler fails on its next read or write.
func (a *Acceptor) closeConnections() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.shutdown = true
	for conn, kind := range a.conns {
		if kind == a.sidecar.kind {
			conn.SetDeadline(time.Now().Add(transferGrace))
			continue
		}
		conn.Close()
	}
}
