// Package notify owns the notification channel socket and routes its events.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/xiaot623/paybridge/internal/metrics"
	"github.com/xiaot623/paybridge/internal/session"
)

// HeartbeatTopic is the topic the platform uses for channel keepalives.
const HeartbeatTopic = "channel.metadata"

// CloseReason is sent with the normal-closure frame on stop.
const CloseReason = "Application Closing"

// Display receives the conversation body that replaced the displayed state.
type Display interface {
	ShowConversation(body []byte)
}

// Dispatcher maintains the duplex connection and forwards matching events.
type Dispatcher struct {
	sess    *session.Context
	display Display
	log     *zap.Logger
	dialer  websocket.Dialer

	readLimit    int64
	writeTimeout time.Duration

	mu         sync.Mutex
	conn       *websocket.Conn
	cancelDial context.CancelFunc
	closed     bool
	done       chan struct{}
}

// ErrClosed is returned by Connect once the dispatcher has been closed.
var ErrClosed = errors.New("dispatcher closed")

// NewDispatcher creates a new dispatcher bound to a session context.
func NewDispatcher(sess *session.Context, display Display, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sess:    sess,
		display: display,
		log:     log.With(zap.String("instance_id", sess.ID())),
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		readLimit:    1 << 20,
		writeTimeout: 5 * time.Second,
		done:         make(chan struct{}),
	}
}

// Connect dials connectURI and starts the read loop. The message handler is in
// place when Connect returns, so nothing delivered after a subscription can be missed.
// The dial runs outside the lock and is aborted by Close.
func (d *Dispatcher) Connect(ctx context.Context, connectURI string) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.conn != nil {
		d.mu.Unlock()
		return nil
	}
	if d.cancelDial != nil {
		d.mu.Unlock()
		return fmt.Errorf("connect already in progress")
	}
	dialCtx, cancel := context.WithCancel(ctx)
	d.cancelDial = cancel
	d.mu.Unlock()

	conn, _, err := d.dialer.DialContext(dialCtx, connectURI, nil)
	cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelDial = nil

	if d.closed {
		if err == nil {
			conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(d.readLimit)

	d.conn = conn
	go d.readLoop(conn)
	return nil
}

// readLoop processes frames strictly in arrival order.
func (d *Dispatcher) readLoop(conn *websocket.Conn) {
	defer close(d.done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !d.isClosed() {
				d.log.Warn("notification socket read failed", zap.Error(err))
			}
			return
		}
		d.Handle(message)
	}
}

// Handle applies one inbound frame. It reports whether the displayed
// conversation was replaced.
func (d *Dispatcher) Handle(message []byte) bool {
	if !gjson.ValidBytes(message) {
		d.log.Warn("discarding malformed notification", zap.Int("bytes", len(message)))
		metrics.RecordNotifyEvent(metrics.ResultMalformed)
		return false
	}

	topic := gjson.GetBytes(message, "topicName")
	if topic.String() == HeartbeatTopic {
		return false
	}

	body := gjson.GetBytes(message, "eventBody")
	if topic.Type != gjson.String || !body.IsObject() {
		d.log.Warn("discarding notification without topicName or eventBody")
		metrics.RecordNotifyEvent(metrics.ResultMalformed)
		return false
	}

	id := body.Get("id")
	tracked := d.sess.ConversationID()
	if topic.String() != d.sess.Topic() || id.Type != gjson.String || tracked == "" || id.String() != tracked {
		metrics.RecordNotifyEvent(metrics.ResultDropped)
		return false
	}

	raw := []byte(body.Raw)
	if !d.sess.ReplaceDisplayed(raw) {
		metrics.RecordNotifyEvent(metrics.ResultDropped)
		return false
	}

	d.log.Debug("conversation event applied", zap.String("conversation_id", tracked))
	metrics.RecordNotifyEvent(metrics.ResultApplied)
	d.display.ShowConversation(raw)
	return true
}

// Close sends a normal-closure frame and closes the socket. Later calls are no-ops.
// It reports whether this call performed the close.
func (d *Dispatcher) Close() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	d.closed = true
	if d.cancelDial != nil {
		d.cancelDial()
	}

	if d.conn == nil {
		close(d.done)
		return true
	}

	deadline := time.Now().Add(d.writeTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, CloseReason)
	if err := d.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		d.log.Warn("failed to send close frame", zap.Error(err))
	}
	if err := d.conn.Close(); err != nil {
		d.log.Debug("socket close", zap.Error(err))
	}
	return true
}

// Closed reports whether Close has been called.
func (d *Dispatcher) Closed() bool {
	return d.isClosed()
}

// Done is closed when the read loop exits.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
