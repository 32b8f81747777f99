package touchportal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/standardbeagle/meldtp/internal/logging"
)

// Defaults for the Touch Portal plugin socket.
const (
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 12136
	DefaultPluginID = "meld.touchportal.fullcontrol"
)

// maxLine bounds one inbound message. Info events carry every setting.
const maxLine = 1 << 20

var (
	// ErrNotConnected is returned when sending before Connect.
	ErrNotConnected = errors.New("not connected to Touch Portal")
	// ErrClosed is returned by Run when Touch Portal closed the socket.
	ErrClosed = errors.New("touch portal connection closed")
)

// Config addresses the Touch Portal socket.
type Config struct {
	Host        string
	Port        int
	PluginID    string
	DialTimeout time.Duration
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client is one plugin connection. Sends are safe for concurrent use.
type Client struct {
	cfg    Config
	logger *slog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	conn    net.Conn
	closed  atomic.Bool
	noteSeq atomic.Uint64
}

// New creates an unconnected client.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.PluginID == "" {
		cfg.PluginID = DefaultPluginID
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{cfg: cfg, logger: logger.With("component", "touchportal")}
}

// PluginID returns the id the client pairs with.
func (c *Client) PluginID() string { return c.cfg.PluginID }

// Connect dials Touch Portal and sends the pair message.
func (c *Client) Connect(ctx context.Context) error {
	c.logger.Info("connecting to Touch Portal", "addr", c.cfg.addr())
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.addr())
	if err != nil {
		return fmt.Errorf("dial touch portal %s: %w", c.cfg.addr(), err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.closed.Store(false)

	if err := c.send(pairMessage{Type: "pair", ID: c.cfg.PluginID}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("pair: %w", err)
	}
	c.logger.Info("connected to Touch Portal runtime", "plugin", c.cfg.PluginID)
	return nil
}

// Run reads events and hands each to handle, in order, until ctx ends or
// the socket closes. A socket closed by Touch Portal yields ErrClosed; a
// cancelled ctx or a local Close yields nil.
func (c *Client) Run(ctx context.Context, handle func(Event)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			c.logger.Warn("malformed message", "error", err)
			continue
		}
		c.logger.Debug("event", "type", ev.Type)
		handle(ev)
	}

	if c.closed.Load() {
		return nil
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read: %w", err)
	}
	return ErrClosed
}

// StateUpdate sets a Touch Portal state.
func (c *Client) StateUpdate(id, value string) error {
	c.logger.Debug("updating state", "state", id, "value", value)
	return c.send(stateUpdateMessage{Type: "stateUpdate", ID: id, Value: value})
}

// ChoiceUpdate replaces the entries of a choice list.
func (c *Client) ChoiceUpdate(id string, choices []Choice) error {
	if choices == nil {
		choices = []Choice{}
	}
	return c.send(choiceUpdateMessage{Type: "choiceUpdate", ID: id, Value: choices})
}

// ShowNotification pops a notification in Touch Portal.
func (c *Client) ShowNotification(title, message string) error {
	id := c.cfg.PluginID + ".notice." + strconv.FormatUint(c.noteSeq.Add(1), 10)
	return c.send(notificationMessage{
		Type:           "showNotification",
		NotificationID: id,
		Title:          title,
		Message:        message,
		Options:        []notificationOption{{ID: "dismiss", Title: "OK"}},
	})
}

// Close closes the socket. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.closed.Store(true)
	c.logger.Info("disconnecting from Touch Portal")
	return conn.Close()
}

func (c *Client) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	data = append(data, '\n')

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
