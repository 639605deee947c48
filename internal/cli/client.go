package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/paybridge/internal/domain"
	"github.com/xiaot623/paybridge/internal/protocol"
)

// Client is a page-side WebSocket client that plays the host shell.
type Client struct {
	conn *websocket.Conn
	done chan struct{}
}

// WatchURL builds the page socket address for an instance.
func WatchURL(addr, instanceID string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parse addr: %w", err)
	}
	q := u.Query()
	q.Set("instance", instanceID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// NewClient creates a new client and connects to the server.
func NewClient(addr string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	close(c.done)
	return c.conn.Close()
}

// SendSignal relays a host lifecycle signal.
func (c *Client) SendSignal(name string) error {
	sig, ok := domain.ParseSignal(name)
	if !ok {
		return fmt.Errorf("unknown signal %q", name)
	}

	msg := protocol.SignalMessage{
		BaseMessage: protocol.BaseMessage{
			Type: protocol.TypeSignal,
			Ts:   time.Now().UnixMilli(),
		},
		Signal: string(sig),
	}
	return c.conn.WriteJSON(msg)
}

// ReadMessages prints messages from the server until the socket closes.
// It returns once the stopped acknowledgement has been printed when
// untilStopped is set.
func (c *Client) ReadMessages(w io.Writer, untilStopped bool) error {
	for {
		select {
		case <-c.done:
			return nil
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var base protocol.BaseMessage
		if err := json.Unmarshal(data, &base); err != nil {
			fmt.Fprintf(w, "unreadable message: %v\n", err)
			continue
		}

		var pretty map[string]interface{}
		json.Unmarshal(data, &pretty)
		formatted, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Fprintf(w, "\n[%s] Received:\n%s\n", base.Type, string(formatted))

		if untilStopped && base.Type == protocol.TypeStopped {
			return nil
		}
	}
}
