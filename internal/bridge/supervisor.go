package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/standardbeagle/meldtp/internal/logging"
	"github.com/standardbeagle/meldtp/internal/metrics"
	"github.com/standardbeagle/meldtp/internal/protocol"
	"github.com/standardbeagle/meldtp/internal/transport"
)

// ConnState is the supervisor's connection state.
type ConnState string

const (
	Disconnected ConnState = "disconnected"
	Connecting   ConnState = "connecting"
	Connected    ConnState = "connected"
)

// TransportFactory builds a fresh transport for each connection attempt.
type TransportFactory func() (transport.Transport, error)

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// NewTransport is called before every connection attempt.
	NewTransport TransportFactory
	// Publish receives every state transition, in order.
	Publish func(ConnState)
	// OnConnected runs after each successful connect, outside any lock.
	OnConnected func(ctx context.Context)
	// OnNotification receives pushes from the current transport. It runs on
	// the transport's read goroutine and must not block.
	OnNotification func(protocol.Notification)
	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration
	Backoff        *Backoff
	AfterFunc      AfterFunc
	Logger         *slog.Logger
	Metrics        *metrics.Collectors
}

// Supervisor owns the transport and the connection state machine:
// disconnected → connecting → connected → disconnected, with exponential
// backoff between attempts.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *slog.Logger

	mu            sync.Mutex
	state         ConnState
	tr            transport.Transport
	stopping      bool
	gen           uint64
	timer         Timer
	timerSeq      uint64
	connectCancel context.CancelFunc
}

// NewSupervisor creates a stopped supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Backoff == nil {
		cfg.Backoff = NewBackoff()
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = realAfterFunc
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = transport.DefaultRequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Publish == nil {
		cfg.Publish = func(ConnState) {}
	}
	return &Supervisor{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "supervisor"),
		state:  Disconnected,
	}
}

// Start makes the first connection attempt and returns once it has
// succeeded (and OnConnected has run) or a reconnect has been scheduled.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.stopping = false
	s.mu.Unlock()
	s.connect(ctx)
}

// Stop cancels any pending reconnect or in-flight connect and disconnects
// the transport. It is idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopping = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.connectCancel != nil {
		s.connectCancel()
		s.connectCancel = nil
	}
	tr := s.tr
	s.tr = nil
	s.transitionLocked(Disconnected)
	s.mu.Unlock()

	if tr != nil {
		if err := tr.Disconnect(); err != nil {
			s.logger.Error("disconnect failed", "error", err)
		}
	}
}

// State returns the current connection state.
func (s *Supervisor) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether calls may be issued.
func (s *Supervisor) Connected() bool {
	return s.State() == Connected
}

// TransportName returns the active transport's name, or "".
func (s *Supervisor) TransportName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil {
		return ""
	}
	return s.tr.Name()
}

// Call forwards to the live transport. Nothing is queued while
// disconnected.
func (s *Supervisor) Call(ctx context.Context, method string, params any) (any, error) {
	s.mu.Lock()
	tr := s.tr
	ok := s.state == Connected
	s.mu.Unlock()
	if !ok || tr == nil {
		return nil, protocol.ErrNotConnected
	}

	start := time.Now()
	v, err := tr.Call(ctx, method, params)
	s.cfg.Metrics.ObserveCall(method, time.Since(start), err)
	return v, err
}

// transitionLocked records and publishes a new state. Publishing under the
// lock keeps the host-visible sequence in transition order.
func (s *Supervisor) transitionLocked(st ConnState) {
	s.state = st
	s.cfg.Metrics.SetConnectionState(string(st))
	s.cfg.Publish(st)
}

func (s *Supervisor) connect(parent context.Context) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	old := s.tr
	s.tr = nil
	ctx, cancel := context.WithTimeout(parent, s.cfg.ConnectTimeout)
	s.connectCancel = cancel
	s.transitionLocked(Connecting)
	s.mu.Unlock()
	defer cancel()

	if old != nil {
		_ = old.Disconnect()
	}

	tr, err := s.cfg.NewTransport()
	if err == nil {
		tr.SetHooks(transport.Hooks{
			OnDisconnect:   func(cause error) { s.handleDrop(gen, cause) },
			OnNotification: func(n protocol.Notification) { s.handleNotification(gen, n) },
		})
		err = tr.Connect(ctx)
	}

	s.mu.Lock()
	if s.stopping || s.gen != gen {
		// Stopped or superseded while connecting.
		s.mu.Unlock()
		if err == nil {
			_ = tr.Disconnect()
		}
		return
	}
	s.connectCancel = nil
	if err == nil && !tr.Connected() {
		// Dropped before it could be installed; handleDrop ignored it.
		err = protocol.ErrDisconnected
	}
	if err != nil {
		s.logger.Error("connection failed", "error", err)
		s.transitionLocked(Disconnected)
		s.scheduleReconnectLocked()
		s.mu.Unlock()
		return
	}
	s.tr = tr
	s.cfg.Backoff.Reset()
	s.transitionLocked(Connected)
	s.mu.Unlock()

	s.logger.Info("connected", "transport", tr.Name())
	if s.cfg.OnConnected != nil {
		s.cfg.OnConnected(parent)
	}
}

// scheduleReconnectLocked arms the reconnect timer. At most one is ever
// outstanding.
func (s *Supervisor) scheduleReconnectLocked() {
	if s.stopping || s.timer != nil {
		return
	}
	delay := s.cfg.Backoff.Next()
	s.logger.Warn("reconnect scheduled", "delay", delay, "attempt", s.cfg.Backoff.Attempt())
	s.cfg.Metrics.IncReconnect()
	s.transitionLocked(Connecting)

	s.timerSeq++
	seq := s.timerSeq
	s.timer = s.cfg.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timerSeq != seq || s.timer == nil {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		s.connect(context.Background())
	})
}

func (s *Supervisor) handleDrop(gen uint64, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.tr == nil {
		return
	}
	s.tr = nil
	s.logger.Warn("connection lost", "error", cause)
	s.transitionLocked(Disconnected)
	s.scheduleReconnectLocked()
}

func (s *Supervisor) handleNotification(gen uint64, n protocol.Notification) {
	s.mu.Lock()
	current := s.gen == gen
	s.mu.Unlock()
	if current && s.cfg.OnNotification != nil {
		s.cfg.OnNotification(n)
	}
}
