// Package bootstrap runs the ordered chain that authenticates the agent,
// subscribes to its conversation events and extracts the payment session.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xiaot623/paybridge/internal/auth"
	"github.com/xiaot623/paybridge/internal/domain"
	"github.com/xiaot623/paybridge/internal/metrics"
	"github.com/xiaot623/paybridge/internal/platform"
	"github.com/xiaot623/paybridge/internal/session"
)

// Authenticator performs the identity flow.
type Authenticator interface {
	Authenticate(ctx context.Context, req auth.Request) (*domain.AuthSession, error)
}

// Platform is the subset of the platform API the chain calls.
type Platform interface {
	GetMe(ctx context.Context) (*platform.User, error)
	CreateChannel(ctx context.Context) (*domain.NotificationChannel, error)
	Subscribe(ctx context.Context, channelID string, topics ...string) error
	GetConversation(ctx context.Context, conversationID string) (*domain.ConversationSnapshot, error)
}

// PlatformFactory binds a platform client to an environment and access token.
type PlatformFactory func(environment, token string) Platform

// Connector opens the event connection. The message handler must be in place
// when Connect returns.
type Connector interface {
	Connect(ctx context.Context, connectURI string) error
}

// Readiness receives the final stage's signal.
type Readiness interface {
	Ready(ctx context.Context) error
}

// ReadyFunc adapts a function to Readiness.
type ReadyFunc func(ctx context.Context) error

// Ready calls f.
func (f ReadyFunc) Ready(ctx context.Context) error { return f(ctx) }

// UI receives what the chain has to show.
type UI interface {
	ShowUser(name string)
	ShowConversation(body []byte)
	Redirect(url string)
}

// Journal records stage outcomes.
type Journal interface {
	AppendEvent(ctx context.Context, instanceID string, typ domain.EventType, payload interface{}) error
}

// StageError wraps the failure of one stage.
type StageError struct {
	Stage domain.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Deps holds the collaborators of an Orchestrator.
type Deps struct {
	Session            *session.Context
	Auth               Authenticator
	Platform           PlatformFactory
	Connector          Connector
	Readiness          Readiness
	UI                 UI
	Journal            Journal
	DefaultEnvironment string
	Logger             *zap.Logger
}

// Orchestrator is the bootstrap chain of one instance.
type Orchestrator struct {
	deps   Deps
	sess   *session.Context
	log    *zap.Logger
	client Platform
}

type stage struct {
	name domain.Stage
	run  func(ctx context.Context) error
}

// errSkipped marks a stage that completed without doing its work.
var errSkipped = errors.New("skipped")

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps: deps,
		sess: deps.Session,
		log:  deps.Logger.Named("bootstrap").With(zap.String("instance_id", deps.Session.ID())),
	}
}

// Environment returns the platform environment the chain talks to.
func (o *Orchestrator) Environment() string {
	return o.sess.Params().EnvironmentOr(o.deps.DefaultEnvironment)
}

func (o *Orchestrator) stages() []stage {
	return []stage{
		{domain.StageAuthenticate, o.authenticate},
		{domain.StageFetchIdentity, o.fetchIdentity},
		{domain.StageCreateChannel, o.createChannel},
		{domain.StageOpenConnection, o.openConnection},
		{domain.StageSubscribe, o.subscribe},
		{domain.StageFetchSnapshot, o.fetchConversation},
		{domain.StageExtractPayment, o.extractPaymentSession},
		{domain.StageSignalReady, o.signalReady},
	}
}

// Run executes the stages in order and halts on the first failure. Nothing is
// retried. Once the session is stopped remaining stages are abandoned and
// results already in flight are discarded.
func (o *Orchestrator) Run(ctx context.Context) error {
	for _, st := range o.stages() {
		if o.sess.Stopped() {
			o.log.Debug("bootstrap abandoned after stop", zap.String("stage", string(st.name)))
			return &StageError{Stage: st.name, Err: domain.ErrStopped}
		}

		err := st.run(ctx)
		switch {
		case err == nil:
			o.record(ctx, st.name, metrics.ResultOK, nil)
		case errors.Is(err, errSkipped):
			o.record(ctx, st.name, metrics.ResultSkipped, nil)
		default:
			o.fail(ctx, st.name, err)
			return &StageError{Stage: st.name, Err: err}
		}
	}
	o.log.Info("bootstrap complete")
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, name domain.Stage, err error) {
	var authErr *domain.AuthError
	switch {
	case errors.Is(err, domain.ErrStopped):
		o.log.Debug("stage result discarded after stop", zap.String("stage", string(name)))
		return
	case errors.As(err, &authErr) && authErr.RedirectRequired():
		o.log.Info("redirecting to identity provider")
		o.deps.UI.Redirect(authErr.RedirectURL)
	default:
		o.log.Error("bootstrap stage failed", zap.String("stage", string(name)), zap.Error(err))
	}
	o.record(ctx, name, metrics.ResultFailed, err)
}

func (o *Orchestrator) record(ctx context.Context, name domain.Stage, result string, err error) {
	metrics.RecordStage(string(name), result)
	if o.deps.Journal == nil {
		return
	}

	typ := domain.EventTypeStageSucceeded
	payload := map[string]interface{}{"stage": name, "result": result}
	if err != nil {
		typ = domain.EventTypeStageFailed
		payload["error"] = err.Error()
	}
	if jerr := o.deps.Journal.AppendEvent(ctx, o.sess.ID(), typ, payload); jerr != nil {
		o.log.Warn("failed to journal stage", zap.String("stage", string(name)), zap.Error(jerr))
	}
}

func (o *Orchestrator) authenticate(ctx context.Context) error {
	raw := o.sess.RawParams()
	a, err := o.deps.Auth.Authenticate(ctx, auth.Request{
		Environment: o.Environment(),
		State:       raw,
		Fragment:    raw,
	})
	if err != nil {
		return err
	}
	if err := o.sess.SetAuth(a); err != nil {
		return err
	}
	o.client = o.deps.Platform(o.Environment(), a.AccessToken)
	return nil
}

func (o *Orchestrator) fetchIdentity(ctx context.Context) error {
	user, err := o.client.GetMe(ctx)
	if err != nil {
		return err
	}

	a := *o.sess.Auth()
	a.UserID = user.ID
	a.DisplayName = user.DisplayName()
	if err := o.sess.SetAuth(&a); err != nil {
		return err
	}
	if err := o.sess.SetTopic(domain.ConversationsTopic(user.ID)); err != nil {
		return err
	}
	o.deps.UI.ShowUser(a.DisplayName)
	return nil
}

func (o *Orchestrator) createChannel(ctx context.Context) error {
	ch, err := o.client.CreateChannel(ctx)
	if err != nil {
		return err
	}
	return o.sess.SetChannel(ch)
}

func (o *Orchestrator) openConnection(ctx context.Context) error {
	return o.deps.Connector.Connect(ctx, o.sess.Channel().ConnectURI)
}

func (o *Orchestrator) subscribe(ctx context.Context) error {
	return o.client.Subscribe(ctx, o.sess.Channel().ID, o.sess.Topic())
}

func (o *Orchestrator) fetchConversation(ctx context.Context) error {
	id := o.sess.ConversationID()
	if id == "" {
		o.log.Warn("conversation id was not resolved, no snapshot to fetch")
		return errSkipped
	}

	snapshot, err := o.client.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	if err := o.sess.SetSnapshot(snapshot); err != nil {
		return err
	}
	o.deps.UI.ShowConversation(snapshot.Raw)
	return nil
}

func (o *Orchestrator) extractPaymentSession(ctx context.Context) error {
	snapshot := o.sess.Snapshot()
	if snapshot == nil {
		o.log.Info("no conversation snapshot, payment session left unset")
		return errSkipped
	}

	ps, err := snapshot.PaymentSession()
	if errors.Is(err, domain.ErrParticipantNotFound) {
		o.log.Info("customer participant not found, payment control inert",
			zap.String("conversation_id", snapshot.ID))
		o.journal(ctx, domain.EventTypeNoCustomer, map[string]interface{}{"conversation_id": snapshot.ID})
		return errSkipped
	}
	if err != nil {
		return err
	}

	if o.sess.Stopped() {
		return domain.ErrStopped
	}
	if o.sess.SetPaymentSession(ps) {
		o.log.Info("payment session found", zap.String("session_id", ps.SessionID))
		o.journal(ctx, domain.EventTypePaymentSessionOK, map[string]interface{}{"session_id": ps.SessionID})
	}
	return nil
}

func (o *Orchestrator) signalReady(ctx context.Context) error {
	return o.deps.Readiness.Ready(ctx)
}

func (o *Orchestrator) journal(ctx context.Context, typ domain.EventType, payload interface{}) {
	if o.deps.Journal == nil {
		return
	}
	if err := o.deps.Journal.AppendEvent(ctx, o.sess.ID(), typ, payload); err != nil {
		o.log.Warn("failed to journal event", zap.String("type", string(typ)), zap.Error(err))
	}
}
