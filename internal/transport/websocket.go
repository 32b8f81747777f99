package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/standardbeagle/meldtp/internal/protocol"
)

// pendingCall is a request waiting for its response.
// done is buffered so the settling side never blocks.
type pendingCall struct {
	method string
	done   chan callResult
}

type callResult struct {
	value any
	err   error
}

// WebSocket speaks JSON-RPC to Meld's WebChannel endpoint.
type WebSocket struct {
	cfg    Config
	logger *slog.Logger
	dialer *websocket.Dialer

	mu    sync.Mutex
	conn  *websocket.Conn
	hooks Hooks

	// writeMu serialises writers; gorilla connections allow one at a time.
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]*pendingCall
	nextID    atomic.Int64
}

// NewWebSocket creates an unconnected WebSocket transport.
func NewWebSocket(cfg Config, logger *slog.Logger) *WebSocket {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &WebSocket{
		cfg:    cfg,
		logger: logger.With("transport", KindWebChannel),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.RequestTimeout,
			NetDialContext:   (&net.Dialer{Timeout: cfg.RequestTimeout}).DialContext,
		},
		pending: make(map[int64]*pendingCall),
	}
}

func (w *WebSocket) Name() string { return KindWebChannel }

// URL returns the endpoint the transport dials.
func (w *WebSocket) URL() string {
	return "ws://" + net.JoinHostPort(w.cfg.Host, strconv.Itoa(w.cfg.Port))
}

func (w *WebSocket) SetHooks(h Hooks) {
	w.mu.Lock()
	w.hooks = h
	w.mu.Unlock()
}

func (w *WebSocket) Connected() bool {
	return w.current() != nil
}

func (w *WebSocket) current() *websocket.Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

// Connect dials the endpoint and starts the read loop.
func (w *WebSocket) Connect(ctx context.Context) error {
	if w.Connected() {
		return nil
	}

	url := w.URL()
	var header http.Header
	if w.cfg.AuthToken != "" {
		header = http.Header{"Authorization": []string{"Bearer " + w.cfg.AuthToken}}
	}

	w.logger.Info("connecting to Meld WebChannel", "url", url)
	conn, _, err := w.dialer.DialContext(ctx, url, header)
	if err != nil {
		w.logger.Error("WebChannel connection error", "url", url, "error", err)
		return &protocol.ConnectionError{URL: url, Err: err}
	}

	w.mu.Lock()
	if w.conn != nil {
		// Lost a race with a concurrent Connect.
		w.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	w.conn = conn
	w.mu.Unlock()

	go w.readLoop(conn)
	w.logger.Info("WebChannel connected", "url", url)
	return nil
}

// Disconnect closes the socket and fails every pending call.
func (w *WebSocket) Disconnect() error {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	if conn == nil {
		return nil
	}

	w.logger.Info("closing WebChannel connection")
	w.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	w.writeMu.Unlock()
	err := conn.Close()

	w.failPending(protocol.ErrDisconnected)
	return err
}

// Call sends a request and waits for the matching response, the per-call
// timeout or ctx, whichever comes first.
func (w *WebSocket) Call(ctx context.Context, method string, params any) (any, error) {
	conn := w.current()
	if conn == nil {
		return nil, protocol.ErrNotConnected
	}

	id := w.nextID.Add(1)
	pc := &pendingCall{method: method, done: make(chan callResult, 1)}
	w.pendingMu.Lock()
	w.pending[id] = pc
	w.pendingMu.Unlock()

	// A disconnect between the check above and registration would have
	// missed this entry.
	if w.current() != conn {
		if w.take(id) != nil {
			return nil, protocol.ErrDisconnected
		}
		return pc.wait()
	}

	req := protocol.NewRequest(id, method, params)
	w.logger.Debug("sending request", "id", id, "method", method)

	w.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(w.cfg.RequestTimeout))
	err := conn.WriteJSON(req)
	w.writeMu.Unlock()
	if err != nil {
		if w.take(id) != nil {
			w.logger.Error("send failed", "method", method, "error", err)
			return nil, fmt.Errorf("send %s: %w", method, err)
		}
		return pc.wait()
	}

	timer := time.NewTimer(w.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-pc.done:
		return res.value, res.err
	case <-timer.C:
		if w.take(id) != nil {
			w.logger.Warn("request timeout", "id", id, "method", method)
			return nil, &protocol.TimeoutError{Method: method, ID: id}
		}
		return pc.wait()
	case <-ctx.Done():
		if w.take(id) != nil {
			return nil, fmt.Errorf("%s: %w", method, ctx.Err())
		}
		return pc.wait()
	}
}

// wait blocks for a result that has already been claimed by a settler.
func (pc *pendingCall) wait() (any, error) {
	res := <-pc.done
	return res.value, res.err
}

// take removes and returns the pending call for id. Exactly one caller
// wins; everyone else gets nil.
func (w *WebSocket) take(id int64) *pendingCall {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	pc, ok := w.pending[id]
	if !ok {
		return nil
	}
	delete(w.pending, id)
	return pc
}

func (w *WebSocket) failPending(err error) {
	w.pendingMu.Lock()
	calls := w.pending
	w.pending = make(map[int64]*pendingCall)
	w.pendingMu.Unlock()

	for _, pc := range calls {
		pc.done <- callResult{err: err}
	}
}

// PendingCount returns the number of calls awaiting a response.
func (w *WebSocket) PendingCount() int {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	return len(w.pending)
}

func (w *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.handleClose(conn, err)
			return
		}
		w.handleFrame(data)
	}
}

// handleClose runs when the read side fails. A connection that was already
// replaced or torn down by Disconnect is ignored.
func (w *WebSocket) handleClose(conn *websocket.Conn, cause error) {
	w.mu.Lock()
	if w.conn != conn {
		w.mu.Unlock()
		return
	}
	w.conn = nil
	hooks := w.hooks
	w.mu.Unlock()

	_ = conn.Close()
	w.logger.Warn("WebChannel closed", "error", cause)
	w.failPending(protocol.ErrDisconnected)
	if hooks.OnDisconnect != nil {
		hooks.OnDisconnect(cause)
	}
}

func (w *WebSocket) handleFrame(data []byte) {
	msgs, err := protocol.ParseFrame(data)
	if err != nil {
		w.logger.Warn("dropping malformed frame", "error", err, "len", len(data))
	}
	for _, msg := range msgs {
		w.dispatch(msg)
	}
}

func (w *WebSocket) dispatch(msg protocol.Message) {
	if id, ok := msg.RequestID(); ok {
		if pc := w.take(id); pc != nil {
			pc.done <- w.settle(pc.method, msg)
			return
		}
	}

	if msg.Method != "" {
		w.logger.Debug("notification received", "method", msg.Method)
		w.mu.Lock()
		onNotify := w.hooks.OnNotification
		w.mu.Unlock()
		if onNotify != nil {
			onNotify(protocol.Notification{Method: msg.Method, Params: msg.Params})
		}
		return
	}

	w.logger.Debug("unmatched message", "id", string(msg.ID))
}

func (w *WebSocket) settle(method string, msg protocol.Message) callResult {
	if failure := msg.Failure(); failure != nil {
		return callResult{err: protocol.NewRemoteError(method, failure)}
	}
	v, err := protocol.DecodeResult(msg.Result)
	if err != nil {
		return callResult{err: fmt.Errorf("%s result: %w: %v", method, protocol.ErrParse, err)}
	}
	return callResult{value: v}
}
