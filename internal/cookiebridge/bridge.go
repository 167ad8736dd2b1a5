package cookiebridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codefionn/cookiebridge/internal/logger"
	"github.com/codefionn/cookiebridge/internal/securemem"
)

const (
	// DefaultPort is used when Start is called with a port <= 0.
	DefaultPort = 17891

	defaultHost         = "127.0.0.1"
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Bridge is the cookie push endpoint. The zero value is not usable; create
// one with New.
type Bridge struct {
	log          *slog.Logger
	host         string
	readTimeout  time.Duration
	writeTimeout time.Duration

	// mu guards the listener state below. It is only held across
	// start/stop transitions, never across request I/O.
	mu       sync.Mutex
	listener net.Listener
	port     int
	cancel   context.CancelFunc
	loopDone chan struct{}

	handlers sync.WaitGroup
	inFlight atomic.Int64
	latest   securemem.Value
	subs     subscriberSet
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger routes diagnostics to l. By default the bridge logs through the
// global logger, which discards everything until logger.Init is called.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithHost binds a different loopback address, e.g. "::1".
func WithHost(host string) Option {
	return func(b *Bridge) {
		if host != "" {
			b.host = host
		}
	}
}

// WithTimeouts bounds how long a single connection may spend reading the
// request and writing the response.
func WithTimeouts(read, write time.Duration) Option {
	return func(b *Bridge) {
		if read > 0 {
			b.readTimeout = read
		}
		if write > 0 {
			b.writeTimeout = write
		}
	}
}

// New creates a stopped Bridge.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		log:          logger.Slog("cookiebridge"),
		host:         defaultHost,
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start binds host:port and begins accepting connections in the background.
// A port <= 0 selects DefaultPort. Calling Start on a listening bridge is a
// no-op. A bind failure is logged and returned; the bridge then stays
// stopped and Start may be retried, e.g. with another port.
func (b *Bridge) Start(port int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.listener != nil {
		return nil
	}
	if port <= 0 {
		port = DefaultPort
	}

	addr := net.JoinHostPort(b.host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		b.log.Warn("cookie bridge unavailable", "addr", addr, "err", err)
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	b.listener = ln
	b.port = port
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		b.port = tcpAddr.Port
	}
	b.cancel = cancel
	b.loopDone = done

	go b.acceptLoop(ctx, ln, done)

	b.log.Info("cookie bridge listening", "addr", ln.Addr().String())
	return nil
}

// Stop closes the listener, waits for the accept loop to exit and forgets
// the latest cookie header. Requests that were already accepted keep
// running. Stop is idempotent and safe to call on a bridge that never started.
func (b *Bridge) Stop() {
	b.mu.Lock()
	ln, cancel, done := b.listener, b.cancel, b.loopDone
	b.listener, b.cancel, b.loopDone, b.port = nil, nil, nil, 0

	if cancel != nil {
		cancel()
	}
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			b.log.Debug("closing cookie bridge listener", "err", err)
		}
	}
	b.latest.Clear()
	b.mu.Unlock()

	if done != nil {
		<-done
		b.log.Info("cookie bridge stopped")
	}
}

// Shutdown stops the bridge and waits until every accepted request has been
// answered, or ctx is done.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.Stop()

	drained := make(chan struct{})
	go func() {
		b.handlers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listening reports whether the bridge currently owns a listener.
func (b *Bridge) Listening() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listener != nil
}

// Port returns the bound port, or 0 when the bridge is stopped.
func (b *Bridge) Port() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port
}

// Addr returns the listener address, or "" when the bridge is stopped.
func (b *Bridge) Addr() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// InFlight returns the number of accepted connections still being served.
func (b *Bridge) InFlight() int {
	return int(b.inFlight.Load())
}

// LatestCookieHeader returns the most recently pushed header, for consumers
// that poll instead of subscribing.
func (b *Bridge) LatestCookieHeader() string {
	return b.latest.Load()
}

// Subscribe registers fn to receive every new cookie header. Callbacks run
// synchronously on the request goroutine, in registration order.
func (b *Bridge) Subscribe(fn func(header string)) *Subscription {
	if fn == nil {
		return &Subscription{}
	}
	return b.subs.add(fn)
}

// acceptLoop runs until the listener fails or ctx is cancelled. Accept
// errors are terminal: a closed listener cannot recover, only a fresh Start
// brings the bridge back.
func (b *Bridge) acceptLoop(ctx context.Context, ln net.Listener, done chan struct{}) {
	defer close(done)

	for ctx.Err() == nil {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				b.log.Warn("cookie bridge accept failed", "err", err)
			}
			b.releaseListener(ln)
			return
		}

		b.handlers.Add(1)
		b.inFlight.Add(1)
		go b.serveConn(conn)
	}

	// Cancelled between two accepts.
	b.releaseListener(ln)
}

// releaseListener clears the listener state if ln is still the active
// listener, so that a loop that died on its own does not leave the bridge
// half open.
func (b *Bridge) releaseListener(ln net.Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_ = ln.Close()
	if b.listener != ln {
		return
	}
	if b.cancel != nil {
		b.cancel()
	}
	b.listener, b.cancel, b.loopDone, b.port = nil, nil, nil, 0
}
