// Package ws provides the WebSocket endpoint the widget page listens on.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/paybridge/internal/config"
	"github.com/xiaot623/paybridge/internal/domain"
	"github.com/xiaot623/paybridge/internal/hub"
	"github.com/xiaot623/paybridge/internal/instance"
	"github.com/xiaot623/paybridge/internal/protocol"
)

// Instances looks up live instances.
type Instances interface {
	Get(id string) (*instance.Instance, error)
}

// Server handles WebSocket connections.
type Server struct {
	cfg       *config.Config
	hub       *hub.Hub
	instances Instances
	upgrader  websocket.Upgrader
	log       *zap.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, instances Instances, log *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		hub:       h,
		instances: instances,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The page is embedded by the host shell under its own origin.
				return true
			},
		},
		log: log.Named("ws"),
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	instanceID := c.QueryParam("instance")
	inst, err := s.instances.Get(instanceID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "instance not found"})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("failed to upgrade websocket", zap.Error(err))
		return err
	}

	conn := s.hub.NewConnection(ws, instanceID)
	s.hub.Register(conn)

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	s.greet(conn, inst)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// greet brings a freshly connected page up to date with the instance.
func (s *Server) greet(conn *hub.Connection, inst *instance.Instance) {
	st := inst.Status()
	params := inst.Session().Params()
	ts := time.Now().UnixMilli()
	base := func(t string) protocol.BaseMessage {
		return protocol.BaseMessage{Type: t, Ts: ts, InstanceID: st.InstanceID}
	}

	msgs := []interface{}{
		protocol.ParamsMessage{
			BaseMessage:    base(protocol.TypeParams),
			Environment:    params.Environment,
			LanguageTag:    params.LanguageTag,
			ConversationID: params.ConversationID,
		},
		protocol.StateMessage{BaseMessage: base(protocol.TypeState), State: string(st.State)},
	}
	if st.User != "" {
		msgs = append(msgs, protocol.UserMessage{BaseMessage: base(protocol.TypeUser), Name: st.User})
	}
	if body := inst.Displayed(); len(body) > 0 {
		msgs = append(msgs, protocol.ConversationMessage{
			BaseMessage:  base(protocol.TypeConversation),
			Conversation: json.RawMessage(body),
		})
	}
	if st.RedirectURL != "" && st.State == domain.StateBootstrapping {
		msgs = append(msgs, protocol.RedirectMessage{BaseMessage: base(protocol.TypeRedirect), URL: st.RedirectURL})
	}
	// An instance resumed from the login redirect can reach READY before its
	// page attaches, so the host ack is replayed here.
	if acked, toast := inst.Acknowledged(); acked && st.State.Operational() {
		msgs = append(msgs, protocol.AckMessage{BaseMessage: base(protocol.TypeBootstrapped)})
		if toast != nil {
			msgs = append(msgs, protocol.ToastMessage{
				BaseMessage:     base(protocol.TypeToast),
				Title:           toast.Title,
				Message:         toast.Message,
				ToastID:         toast.ID,
				ToastType:       toast.Type,
				ShowCloseButton: toast.ShowCloseButton,
			})
		}
	}

	for _, m := range msgs {
		if err := s.hub.SendJSONToConnection(conn, m); err != nil {
			s.log.Warn("failed to greet page", zap.String("conn_id", conn.ID), zap.Error(err))
			return
		}
	}
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn("websocket error", zap.Error(err))
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Warn("failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches incoming messages to appropriate handlers.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var baseMsg protocol.BaseMessage
	if err := json.Unmarshal(data, &baseMsg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch baseMsg.Type {
	case protocol.TypeSignal:
		s.handleSignal(conn, data)
	default:
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "unknown message type: "+baseMsg.Type)
	}
}

// handleSignal relays a host lifecycle signal to the instance.
func (s *Server) handleSignal(conn *hub.Connection, data []byte) {
	var msg protocol.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, protocol.ErrorCodeInvalidMessage, "invalid signal message")
		return
	}

	sig, ok := domain.ParseSignal(msg.Signal)
	if !ok {
		s.sendError(conn, protocol.ErrorCodeUnknownSignal, "unknown signal: "+msg.Signal)
		return
	}

	inst, err := s.instances.Get(conn.InstanceID)
	if err != nil {
		// A repeated stop after teardown is harmless.
		if sig != domain.SignalStop {
			s.sendError(conn, protocol.ErrorCodeInstanceMissing, "instance not found")
		}
		return
	}

	inst.Signal(context.Background(), sig)
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *hub.Connection, code, message string) {
	errMsg := protocol.ErrorMessage{
		BaseMessage: protocol.BaseMessage{
			Type:       protocol.TypeError,
			Ts:         time.Now().UnixMilli(),
			InstanceID: conn.InstanceID,
		},
		Code:    code,
		Message: message,
	}
	s.hub.SendJSONToConnection(conn, errMsg)
}
