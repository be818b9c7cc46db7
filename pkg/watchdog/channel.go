// Package watchdog implements Component H of SPEC_FULL.md: the worker's
// long-lived bidirectional progress channel to the control plane
// (ws/active-runs/{id}/progress), carrying keepalives, log-file tail
// frames, and the server's remote-kill signal.
//
// No repository in the retrieval pack demonstrates a websocket channel
// directly; gorilla/websocket is the ecosystem-standard client for the
// protocol spec.md §4.8 names explicitly, so it is wired in rather than
// hand-rolling frame handling over net/http. Reconnect backoff pacing
// reuses golang.org/x/time/rate the way the broader retrieval pack uses it
// for per-caller throttling, applied here to pace reconnect attempts
// instead of inbound requests.
package watchdog

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	keepaliveCheckInterval = 10 * time.Second
	keepaliveThreshold     = 60 * time.Second
	logPollInterval        = 60 * time.Second
	reconnectBackoff       = 5 * time.Second
)

// KillFunc is called when the server sends the "kill" text frame; the
// worker wires this to cancel the main run's context.
type KillFunc func()

// Channel is the worker-owned end of one run's progress connection.
type Channel struct {
	URL       string
	LogDir    string
	OnKill    KillFunc
	Log       *slog.Logger
	reconnect *rate.Limiter

	mu       sync.Mutex
	conn     *websocket.Conn
	lastSent time.Time
}

// New builds a Channel for one run. url is the ws(s):// endpoint,
// logDir the worker's output directory to tail.
func New(url, logDir string, onKill KillFunc) *Channel {
	return &Channel{
		URL:       url,
		LogDir:    logDir,
		OnKill:    onKill,
		Log:       slog.Default(),
		reconnect: rate.NewLimiter(rate.Every(reconnectBackoff), 1),
	}
}

// Run owns the channel's lifetime: connects, reconnecting indefinitely with
// backoff on loss, and runs the keepalive and log-tail loops concurrently
// until ctx is canceled.
func (c *Channel) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := c.connect(ctx); err != nil {
			c.Log.Warn("watchdog connect failed, backing off", "url", c.URL, "error", err)
			if waitErr := c.reconnect.Wait(ctx); waitErr != nil {
				return
			}
			continue
		}

		var wg sync.WaitGroup
		runCtx, cancel := context.WithCancel(ctx)
		wg.Add(3)
		go func() { defer wg.Done(); c.readLoop(runCtx, cancel) }()
		go func() { defer wg.Done(); c.keepaliveLoop(runCtx) }()
		go func() { defer wg.Done(); c.logPollLoop(runCtx) }()
		wg.Wait()

		c.closeConn()
		if ctx.Err() != nil {
			return
		}
		if waitErr := c.reconnect.Wait(ctx); waitErr != nil {
			return
		}
	}
}

func (c *Channel) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.lastSent = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *Channel) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// readLoop reads frames from the server. The only frame it acts on is the
// text frame "kill"; anything else (or a read error, signalling connection
// loss) ends this connection's session so Run reconnects.
func (c *Channel) readLoop(ctx context.Context, cancelSession context.CancelFunc) {
	defer cancelSession()
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.TextMessage && string(data) == "kill" {
			if c.OnKill != nil {
				c.OnKill()
			}
			return
		}
	}
}

// keepaliveLoop sends a keepalive frame whenever no frame has been sent in
// keepaliveThreshold, checked every keepaliveCheckInterval (spec.md §4.8).
func (c *Channel) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepaliveCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			idle := time.Since(c.lastSent) >= keepaliveThreshold
			c.mu.Unlock()
			if idle {
				c.sendText("keepalive")
			}
		}
	}
}

// logPollLoop tails *.log files in LogDir every logPollInterval, sending
// each file's new bytes as a binary frame "log\0<filename>\0<payload>".
func (c *Channel) logPollLoop(ctx context.Context) {
	offsets := map[string]int64{}
	ticker := time.NewTicker(logPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollLogsOnce(offsets)
		}
	}
}

func (c *Channel) pollLogsOnce(offsets map[string]int64) {
	if c.LogDir == "" {
		return
	}
	matches, err := filepath.Glob(filepath.Join(c.LogDir, "*.log"))
	if err != nil {
		return
	}
	for _, path := range matches {
		name := filepath.Base(path)
		payload, newOffset, err := readFrom(path, offsets[name])
		if err != nil || len(payload) == 0 {
			continue
		}
		offsets[name] = newOffset
		c.sendBinary(frameLog(name, payload))
	}
}

func frameLog(filename string, payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("log\x00")
	buf.WriteString(filename)
	buf.WriteByte(0)
	buf.Write(payload)
	return buf.Bytes()
}

func readFrom(path string, offset int64) ([]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, offset, err
	}
	if info.Size() <= offset {
		return nil, offset, nil
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return nil, offset, err
	}
	buf := make([]byte, info.Size()-offset)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return nil, offset, err
	}
	return buf[:n], offset + int64(n), nil
}

func (c *Channel) sendText(msg string) {
	c.send(websocket.TextMessage, []byte(msg))
}

func (c *Channel) sendBinary(data []byte) {
	c.send(websocket.BinaryMessage, data)
}

func (c *Channel) send(msgType int, data []byte) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(msgType, data); err != nil {
		c.Log.Warn("watchdog send failed", "error", err)
		return
	}
	c.mu.Lock()
	c.lastSent = time.Now()
	c.mu.Unlock()
}
