// Package instance wires the per-instance session, dispatcher, bootstrap chain
// and lifecycle coordinator, and keeps the live instances of the process.
package instance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/paybridge/internal/domain"
	"github.com/xiaot623/paybridge/internal/handoff"
	"github.com/xiaot623/paybridge/internal/hub"
	"github.com/xiaot623/paybridge/internal/lifecycle"
	"github.com/xiaot623/paybridge/internal/notify"
	"github.com/xiaot623/paybridge/internal/session"
)

// Status is the externally visible view of an instance. It never carries tokens.
type Status struct {
	InstanceID        string       `json:"instance_id"`
	State             domain.State `json:"state"`
	Environment       string       `json:"environment"`
	ConversationID    string       `json:"conversation_id,omitempty"`
	User              string       `json:"user,omitempty"`
	HasPaymentSession bool         `json:"has_payment_session"`
	RedirectURL       string       `json:"redirect_url,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// Instance is one running app instance.
type Instance struct {
	id          string
	environment string
	createdAt   time.Time

	sess       *session.Context
	publisher  *hub.Publisher
	dispatcher *notify.Dispatcher
	coord      *lifecycle.Coordinator
	handoff    *handoff.Handoff
	log        *zap.Logger

	mu           sync.RWMutex
	redirect     string
	onRedirect   func()
	bootstrapped bool
	lastToast    *domain.Toast
}

// ID returns the instance id.
func (i *Instance) ID() string { return i.id }

// Session returns the session context.
func (i *Instance) Session() *session.Context { return i.sess }

// State returns the lifecycle state.
func (i *Instance) State() domain.State { return i.coord.State() }

// Done is closed once the instance acknowledged stop.
func (i *Instance) Done() <-chan struct{} { return i.coord.Done() }

// Signal relays a host lifecycle signal.
func (i *Instance) Signal(ctx context.Context, sig domain.Signal) bool {
	return i.coord.Signal(ctx, sig)
}

// Stop tears the instance down and waits for the stop acknowledgement.
func (i *Instance) Stop() bool {
	return i.coord.Stop()
}

// Pay prepares the payment handoff form.
func (i *Instance) Pay(ctx context.Context) (*handoff.Form, error) {
	return i.handoff.Prepare(ctx, i.sess, i.coord.State())
}

// Status returns the current view of the instance.
func (i *Instance) Status() Status {
	st := Status{
		InstanceID:     i.id,
		State:          i.coord.State(),
		Environment:    i.environment,
		ConversationID: i.sess.ConversationID(),
		RedirectURL:    i.RedirectURL(),
		CreatedAt:      i.createdAt,
	}
	if a := i.sess.Auth(); a != nil {
		st.User = a.DisplayName
	}
	if ps, ok := i.sess.PaymentSession(); ok && ps.SessionID != "" {
		st.HasPaymentSession = true
	}
	return st
}

// Displayed returns the conversation currently shown.
func (i *Instance) Displayed() []byte {
	return i.sess.Displayed()
}

// RedirectURL is the identity provider address the page must navigate to, if any.
func (i *Instance) RedirectURL() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.redirect
}

// ShowUser forwards the display name to the page.
func (i *Instance) ShowUser(name string) {
	i.publisher.ShowUser(name)
}

// ShowConversation forwards the displayed conversation to the page.
func (i *Instance) ShowConversation(body []byte) {
	i.publisher.ShowConversation(body)
}

// Redirect remembers the login address and sends the page to it. The instance
// is finished once the page leaves for the identity provider.
func (i *Instance) Redirect(url string) {
	i.mu.Lock()
	i.redirect = url
	onRedirect := i.onRedirect
	i.mu.Unlock()
	i.publisher.Redirect(url)
	if onRedirect != nil {
		onRedirect()
	}
}

// Acknowledged returns whether the host was sent the bootstrapped ack, and the
// last toast shown. Pages attaching late replay both.
func (i *Instance) Acknowledged() (bool, *domain.Toast) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.bootstrapped, i.lastToast
}

// Bootstrapped acknowledges bootstrap to the host.
func (i *Instance) Bootstrapped() {
	i.mu.Lock()
	i.bootstrapped = true
	i.mu.Unlock()
	i.publisher.Bootstrapped()
}

// Stopped acknowledges stop to the host.
func (i *Instance) Stopped() {
	i.publisher.Stopped()
}

// Toast shows a host toast.
func (i *Instance) Toast(t domain.Toast) {
	i.mu.Lock()
	i.lastToast = &t
	i.mu.Unlock()
	i.publisher.Toast(t)
}

// StateChanged forwards the lifecycle state to the page.
func (i *Instance) StateChanged(state domain.State) {
	i.publisher.StateChanged(state)
}
