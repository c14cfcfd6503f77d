package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pombo/internal/bus"
	"pombo/internal/config"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	maxBackoff     = 60 * time.Second
)

// Transport maintains the persistent event channel to the provider. It
// reconnects with capped exponential backoff after each drop; events
// missed while disconnected are not replayed, so the facade
// resynchronizes on every transport.connected event.
type Transport struct {
	url            string
	token          string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	bus            *bus.Bus
	machine        *Machine
	logger         *zap.Logger
	cancel         context.CancelFunc
	done           chan struct{}
}

// New creates a transport for the configured websocket endpoint.
func New(cfg config.Provider, delay time.Duration, b *bus.Bus, machine *Machine, logger *zap.Logger) *Transport {
	return &Transport{
		url:            cfg.WSURL,
		token:          cfg.Token,
		reconnectDelay: delay,
		dialer:         websocket.DefaultDialer,
		bus:            b,
		machine:        machine,
		logger:         logger,
	}
}

// Start launches the connect/reconnect loop.
func (t *Transport) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	go t.run(ctx)
}

// Stop terminates the loop and waits for it to exit.
func (t *Transport) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	_ = t.machine.Transition(Stopped)
}

func (t *Transport) run(ctx context.Context) {
	defer close(t.done)
	backoff := t.reconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}
		_ = t.machine.Transition(Connecting)

		header := http.Header{}
		header.Set("Authorization", "Bearer "+t.token)
		conn, _, err := t.dialer.DialContext(ctx, t.url, header)
		if err != nil {
			t.logger.Warn("event channel dial failed",
				zap.Duration("retry_in", backoff), zap.Error(err))
			_ = t.machine.Transition(Disconnected)
			if !t.sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = t.reconnectDelay
		_ = t.machine.Transition(Connected)
		t.logger.Info("event channel connected", zap.String("url", t.url))

		t.readLoop(ctx, conn)

		_ = conn.Close()
		_ = t.machine.Transition(Disconnected)
		t.logger.Warn("event channel disconnected")

		if !t.sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

// sleep waits the given delay. Returns false if the context ended.
func (t *Transport) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)

	// Unblock ReadMessage on shutdown; without this, Stop would wait out
	// the read deadline on an idle connection.
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-pingDone:
		}
	}()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("event channel read error", zap.Error(err))
			}
			return
		}
		t.dispatch(data)
	}
}
