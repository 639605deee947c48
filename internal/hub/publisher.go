package hub

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/paybridge/internal/domain"
	"github.com/xiaot623/paybridge/internal/protocol"
)

// Publisher pushes UI messages to the pages of one instance.
type Publisher struct {
	hub        *Hub
	instanceID string
	log        *zap.Logger
}

// Publisher returns a publisher bound to instanceID.
func (h *Hub) Publisher(instanceID string) *Publisher {
	return &Publisher{hub: h, instanceID: instanceID, log: h.log}
}

func (p *Publisher) base(msgType string) protocol.BaseMessage {
	return protocol.BaseMessage{
		Type:       msgType,
		Ts:         time.Now().UnixMilli(),
		InstanceID: p.instanceID,
	}
}

func (p *Publisher) send(v interface{}) {
	if err := p.hub.BroadcastJSON(p.instanceID, v); err != nil {
		p.log.Error("failed to publish ui message", zap.String("instance_id", p.instanceID), zap.Error(err))
	}
}

// ShowParams echoes the resolved launch parameters.
func (p *Publisher) ShowParams(params domain.AppParameters) {
	p.send(protocol.ParamsMessage{
		BaseMessage:    p.base(protocol.TypeParams),
		Environment:    params.Environment,
		LanguageTag:    params.LanguageTag,
		ConversationID: params.ConversationID,
	})
}

// ShowUser shows the authenticated user's name.
func (p *Publisher) ShowUser(name string) {
	p.send(protocol.UserMessage{BaseMessage: p.base(protocol.TypeUser), Name: name})
}

// ShowConversation replaces the conversation on the page.
func (p *Publisher) ShowConversation(body []byte) {
	p.send(protocol.ConversationMessage{
		BaseMessage:  p.base(protocol.TypeConversation),
		Conversation: json.RawMessage(body),
	})
}

// Redirect sends the page to the identity provider.
func (p *Publisher) Redirect(url string) {
	p.send(protocol.RedirectMessage{BaseMessage: p.base(protocol.TypeRedirect), URL: url})
}

// StateChanged reports a lifecycle transition.
func (p *Publisher) StateChanged(state domain.State) {
	p.send(protocol.StateMessage{BaseMessage: p.base(protocol.TypeState), State: string(state)})
}

// Bootstrapped acknowledges bootstrap to the host shell.
func (p *Publisher) Bootstrapped() {
	p.send(protocol.AckMessage{BaseMessage: p.base(protocol.TypeBootstrapped)})
}

// Stopped acknowledges stop to the host shell.
func (p *Publisher) Stopped() {
	p.send(protocol.AckMessage{BaseMessage: p.base(protocol.TypeStopped)})
}

// Toast raises a toast through the host shell.
func (p *Publisher) Toast(t domain.Toast) {
	p.send(protocol.ToastMessage{
		BaseMessage:     p.base(protocol.TypeToast),
		Title:           t.Title,
		Message:         t.Message,
		ToastID:         t.ID,
		ToastType:       t.Type,
		ShowCloseButton: t.ShowCloseButton,
	})
}
