package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"orderflow_go/internal/domain"
	"orderflow_go/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultReadTimeout  = 60 * time.Second
	handshakeTimeout    = 10 * time.Second
)

// Config describes the relay endpoint.
type Config struct {
	URL          string
	Token        string
	Instruments  []string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

// envelope is the common shape of every relay message.
type envelope struct {
	Type    string          `json:"type"`
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type quote struct {
	LastPrice float64 `json:"last_price"`
}

// request is sent to the relay.
type request struct {
	Type           string   `json:"type"`
	Token          string   `json:"token,omitempty"`
	InstrumentKeys []string `json:"instrumentKeys"`
}

// Worker maintains the websocket connection to the relay and forwards
// decoded frames, quotes and status transitions to a FrameSink.
type Worker struct {
	cfg     Config
	sink    domain.FrameSink
	metrics *infra.Metrics
	logger  *slog.Logger

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker creates a relay client. It does nothing until Connect.
func NewWorker(cfg Config, sink domain.FrameSink, metrics *infra.Metrics, logger *slog.Logger) *Worker {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	cfg.Instruments = append([]string(nil), cfg.Instruments...)
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		cfg:     cfg,
		sink:    sink,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "bridge")),
	}
}

// Connect starts the connection loop with automatic reconnection.
func (w *Worker) Connect(ctx context.Context) error {
	if w.cfg.URL == "" {
		return domain.NewFatalNetworkError("connect", fmt.Errorf("%w: empty relay url", domain.ErrConnectionFailed))
	}
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			w.metrics.RecordError()
			w.logger.Error("bridge panic recovered", slog.Any("panic", r))
			w.sink.SubmitStatus(domain.StatusError)
		}
	}()

	backoff := infra.NewBackoff(w.cfg.ReconnectMin, w.cfg.ReconnectMax)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("bridge connection loop stopped")
			return
		default:
		}

		w.sink.SubmitStatus(domain.StatusConnecting)
		if err := w.connect(ctx); err != nil {
			delay := backoff.Next()
			w.metrics.RecordError()
			w.logger.Warn("bridge connection failed",
				slog.Any("error", err),
				slog.Int("retry", backoff.Attempt()),
				slog.Duration("delay", delay))
			w.sink.SubmitStatus(domain.StatusError)

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		backoff.Reset()
		w.readLoop(ctx)
		w.sink.SubmitStatus(domain.StatusDisconnected)
	}
}

// connect dials the relay and sends the init request.
func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, w.cfg.URL, http.Header{})
	if err != nil {
		return domain.NewNetworkError("dial", fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err))
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	w.metrics.IncrementConnections()

	if err := w.send(request{Type: "init", Token: w.cfg.Token, InstrumentKeys: w.Instruments()}); err != nil {
		w.closeConnection()
		return domain.NewNetworkError("init", err)
	}

	w.logger.Info("bridge connected",
		slog.String("url", w.cfg.URL),
		slog.Int("instruments", len(w.Instruments())))
	return nil
}

// Subscribe asks the relay to stream additional instruments. The keys are
// remembered so the next init after a reconnect includes them.
func (w *Worker) Subscribe(keys []string) error {
	w.mu.Lock()
	known := make(map[string]bool, len(w.cfg.Instruments))
	for _, k := range w.cfg.Instruments {
		known[k] = true
	}
	for _, k := range keys {
		if k != "" && !known[k] {
			known[k] = true
			w.cfg.Instruments = append(w.cfg.Instruments, k)
		}
	}
	w.mu.Unlock()

	return w.send(request{Type: "subscribe", InstrumentKeys: keys})
}

// Instruments returns the keys requested from the relay so far.
func (w *Worker) Instruments() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.cfg.Instruments...)
}

// RequestQuotes asks the relay for a one-off last price of keys.
func (w *Worker) RequestQuotes(keys []string) error {
	return w.send(request{Type: "get_quotes", Token: w.cfg.Token, InstrumentKeys: keys})
}

func (w *Worker) send(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return w.threadSafeWrite(websocket.TextMessage, data)
}

func (w *Worker) threadSafeWrite(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("connection is nil")
	}
	return conn.WriteMessage(messageType, data)
}

func (w *Worker) readLoop(ctx context.Context) {
	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()
	if conn == nil {
		return
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go w.pingLoop(ctx, done)

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, w.closeConnection)
	defer stop()

	for {
		conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Warn("bridge read error", slog.Any("error", err))
			}
			w.closeConnection()
			return
		}
		w.handleMessage(message)
	}
}

func (w *Worker) pingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := w.threadSafeWrite(websocket.PingMessage, nil); err != nil {
				w.logger.Debug("bridge ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

// handleMessage decodes one relay message and forwards it to the sink.
func (w *Worker) handleMessage(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		w.metrics.RecordMalformed()
		w.logger.Debug("bridge message parse error", slog.Any("error", err))
		return
	}

	switch env.Type {
	case domain.MsgLiveFeed, domain.MsgInitialFeed:
		var f domain.Frame
		if err := json.Unmarshal(message, &f); err != nil {
			w.metrics.RecordMalformed()
			w.logger.Warn("bridge frame parse error", slog.Any("error", err))
			return
		}
		w.sink.SubmitFrame(&f)

	case domain.MsgQuoteResponse:
		var data map[string]quote
		if err := json.Unmarshal(env.Data, &data); err != nil {
			w.metrics.RecordMalformed()
			w.logger.Warn("bridge quote parse error", slog.Any("error", err))
			return
		}
		prices := make(map[string]float64, len(data))
		for k, q := range data {
			if q.LastPrice > 0 {
				prices[k] = q.LastPrice
			}
		}
		if len(prices) > 0 {
			w.sink.SubmitQuotes(prices)
		}

	case domain.MsgConnectionStatus:
		st, ok := domain.ParseConnectionStatus(env.Status)
		if !ok {
			w.logger.Warn("bridge reported unknown status", slog.String("status", env.Status))
			return
		}
		w.sink.SubmitStatus(st)

	case domain.MsgError:
		w.metrics.RecordError()
		w.logger.Error("bridge error", slog.String("message", env.Message))

	default:
		w.logger.Debug("bridge message ignored", slog.String("type", env.Type))
	}
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		w.metrics.DecrementConnections()
	}
	w.connected = false
}

// Disconnect stops the loop and closes the connection.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
	w.logger.Info("bridge disconnected")
}

// IsConnected reports whether a relay connection is open.
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}
