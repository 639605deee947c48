// Package session holds the per-instance session context shared by the bootstrap
// pipeline, the notification dispatcher and the handoff.
package session

import (
	"sync"

	"github.com/xiaot623/paybridge/internal/domain"
)

// Context is the explicit state of one app instance. Its lifetime runs from
// bootstrap to stop; once stopped every setter becomes a no-op.
type Context struct {
	mu sync.RWMutex

	instanceID string
	params     domain.AppParameters
	rawParams  string

	auth      *domain.AuthSession
	channel   *domain.NotificationChannel
	topic     string
	snapshot  *domain.ConversationSnapshot
	displayed []byte
	payment   *domain.PaymentSession

	stopped bool
}

// New creates a session context for resolved parameters. raw is the launch
// string the parameters came from; it travels as the OAuth state.
func New(instanceID string, params domain.AppParameters, raw string) *Context {
	return &Context{
		instanceID: instanceID,
		params:     params,
		rawParams:  raw,
	}
}

// ID returns the instance id.
func (c *Context) ID() string { return c.instanceID }

// Params returns the resolved parameters.
func (c *Context) Params() domain.AppParameters { return c.params }

// RawParams returns the launch parameter string.
func (c *Context) RawParams() string { return c.rawParams }

// ConversationID returns the tracked conversation id.
func (c *Context) ConversationID() string { return c.params.Conversation() }

// SetAuth stores the authenticated session.
func (c *Context) SetAuth(a *domain.AuthSession) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return domain.ErrStopped
	}
	c.auth = a
	return nil
}

// Auth returns the authenticated session, nil before authentication.
func (c *Context) Auth() *domain.AuthSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth
}

// SetChannel stores the notification channel.
func (c *Context) SetChannel(ch *domain.NotificationChannel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return domain.ErrStopped
	}
	c.channel = ch
	return nil
}

// Channel returns the notification channel, nil before creation.
func (c *Context) Channel() *domain.NotificationChannel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// SetTopic stores the subscribed topic.
func (c *Context) SetTopic(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return domain.ErrStopped
	}
	c.topic = topic
	return nil
}

// Topic returns the subscribed topic.
func (c *Context) Topic() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topic
}

// SetSnapshot stores the fetched conversation and makes it the displayed state.
func (c *Context) SetSnapshot(s *domain.ConversationSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return domain.ErrStopped
	}
	c.snapshot = s
	if s != nil {
		c.displayed = s.Raw
	}
	return nil
}

// Snapshot returns the fetched conversation.
func (c *Context) Snapshot() *domain.ConversationSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// ReplaceDisplayed swaps the displayed conversation for an event body.
// It reports false once the instance is stopped.
func (c *Context) ReplaceDisplayed(body []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.displayed = append([]byte(nil), body...)
	return true
}

// Displayed returns the conversation state currently shown.
func (c *Context) Displayed() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.displayed
}

// SetPaymentSession stores the payment session. Only the first call takes effect.
func (c *Context) SetPaymentSession(p *domain.PaymentSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.payment != nil || p == nil {
		return false
	}
	c.payment = p
	return true
}

// PaymentSession returns a copy of the payment session.
func (c *Context) PaymentSession() (domain.PaymentSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.payment == nil {
		return domain.PaymentSession{}, false
	}
	return *c.payment, true
}

// MarkStopped flags the context as stopped. It reports true only the first time.
func (c *Context) MarkStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.stopped = true
	return true
}

// Stopped reports whether the instance was stopped.
func (c *Context) Stopped() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopped
}
