package instance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/paybridge/internal/auth"
	"github.com/xiaot623/paybridge/internal/bootstrap"
	"github.com/xiaot623/paybridge/internal/domain"
	"github.com/xiaot623/paybridge/internal/handoff"
	"github.com/xiaot623/paybridge/internal/hub"
	"github.com/xiaot623/paybridge/internal/lifecycle"
	"github.com/xiaot623/paybridge/internal/metrics"
	"github.com/xiaot623/paybridge/internal/notify"
	"github.com/xiaot623/paybridge/internal/params"
	"github.com/xiaot623/paybridge/internal/session"
)

// Journal is the lifecycle journal used by instances.
type Journal interface {
	CreateInstance(ctx context.Context, rec *domain.InstanceRecord) error
	UpdateInstanceState(ctx context.Context, instanceID string, state domain.State) error
	SetInstanceUser(ctx context.Context, instanceID, userID string) error
	AppendEvent(ctx context.Context, instanceID string, typ domain.EventType, payload interface{}) error
}

// Options configures a Registry.
type Options struct {
	DefaultEnvironment string
	MaxStateDepth      int
	StopGrace          time.Duration
	// RedirectRetention bounds how long an instance waiting on the identity
	// provider is kept when its page never detaches.
	RedirectRetention time.Duration
}

// DefaultRedirectRetention is used when Options.RedirectRetention is zero.
const DefaultRedirectRetention = time.Minute

// Registry creates and tracks live instances.
type Registry struct {
	hub      *hub.Hub
	journal  Journal
	auth     bootstrap.Authenticator
	platform bootstrap.PlatformFactory
	handoff  *handoff.Handoff
	opts     Options
	log      *zap.Logger

	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewRegistry creates a registry.
func NewRegistry(h *hub.Hub, journal Journal, authn bootstrap.Authenticator, platform bootstrap.PlatformFactory, ho *handoff.Handoff, opts Options, log *zap.Logger) *Registry {
	if opts.RedirectRetention <= 0 {
		opts.RedirectRetention = DefaultRedirectRetention
	}
	r := &Registry{
		hub:       h,
		journal:   journal,
		auth:      authn,
		platform:  platform,
		handoff:   ho,
		opts:      opts,
		log:       log.Named("instance"),
		instances: make(map[string]*Instance),
	}
	h.OnIdle(r.pageLeft)
	return r
}

// Create resolves the launch string and starts a new instance. A launch string
// that is the identity provider's redirect back bootstraps immediately.
func (r *Registry) Create(ctx context.Context, launch string) (*Instance, error) {
	p, err := params.ResolveDepth(launch, r.opts.MaxStateDepth)
	if err != nil {
		return nil, err
	}

	id := "inst_" + uuid.New().String()
	sess := session.New(id, p, launch)
	log := r.log.With(zap.String("instance_id", id))

	inst := &Instance{
		id:          id,
		environment: p.EnvironmentOr(r.opts.DefaultEnvironment),
		createdAt:   time.Now().UTC(),
		sess:        sess,
		publisher:   r.hub.Publisher(id),
		handoff:     r.handoff,
		log:         log,
	}
	inst.dispatcher = notify.NewDispatcher(sess, inst, log)
	inst.onRedirect = func() {
		time.AfterFunc(r.opts.RedirectRetention, func() {
			r.release(inst, "redirect retention elapsed")
		})
	}

	orch := bootstrap.New(bootstrap.Deps{
		Session:   sess,
		Auth:      r.auth,
		Platform:  r.platform,
		Connector: inst.dispatcher,
		Readiness: bootstrap.ReadyFunc(func(ctx context.Context) error {
			return inst.coord.Ready(ctx)
		}),
		UI:                 inst,
		Journal:            r.journal,
		DefaultEnvironment: r.opts.DefaultEnvironment,
		Logger:             log,
	})
	inst.coord = lifecycle.New(sess, orch, inst.dispatcher, inst, log, lifecycle.Options{
		Grace: r.opts.StopGrace,
		OnTransition: func(from, to domain.State) {
			r.transition(inst, from, to)
		},
	})

	if err := r.journal.CreateInstance(ctx, &domain.InstanceRecord{
		InstanceID:     id,
		ConversationID: sess.ConversationID(),
		Environment:    inst.environment,
		State:          domain.StateUninitialized,
		CreatedAt:      inst.createdAt,
	}); err != nil {
		log.Warn("failed to journal instance", zap.Error(err))
	} else {
		r.record(inst, domain.EventTypeInstanceCreated, map[string]interface{}{
			"conversation_id": sess.ConversationID(),
			"environment":     inst.environment,
		})
	}

	r.mu.Lock()
	r.instances[id] = inst
	r.mu.Unlock()
	metrics.InstanceStarted()

	inst.publisher.ShowParams(p)
	log.Info("instance created", zap.String("conversation_id", sess.ConversationID()))

	if auth.IsRedirectResult(launch) {
		inst.Signal(ctx, domain.SignalBootstrap)
	}
	return inst, nil
}

// Get returns a live instance.
func (r *Registry) Get(id string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, domain.ErrInstanceNotFound
	}
	return inst, nil
}

// Count returns the number of live instances.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// Shutdown stops every live instance and waits for their acknowledgements or ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	live := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		live = append(live, inst)
	}
	r.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, inst := range live {
			wg.Add(1)
			go func(inst *Instance) {
				defer wg.Done()
				inst.Stop()
				<-inst.Done()
			}(inst)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pageLeft releases an instance whose last page navigated to the identity
// provider. The browser comes back with a new launch string and a new instance.
func (r *Registry) pageLeft(instanceID string) {
	inst, err := r.Get(instanceID)
	if err != nil || inst.RedirectURL() == "" {
		return
	}
	r.release(inst, "page left for login")
}

func (r *Registry) release(inst *Instance, reason string) {
	if inst.State() == domain.StateStopped {
		return
	}
	inst.log.Info("releasing redirected instance", zap.String("reason", reason))
	go inst.Stop()
}

func (r *Registry) transition(inst *Instance, from, to domain.State) {
	ctx := context.Background()
	if err := r.journal.UpdateInstanceState(ctx, inst.id, to); err != nil {
		inst.log.Warn("failed to journal state", zap.Error(err))
	}
	r.record(inst, domain.EventTypeStateChanged, map[string]interface{}{"from": from, "to": to})

	switch to {
	case domain.StateReady:
		if a := inst.sess.Auth(); a != nil && a.UserID != "" {
			if err := r.journal.SetInstanceUser(ctx, inst.id, a.UserID); err != nil {
				inst.log.Warn("failed to journal user", zap.Error(err))
			}
		}
	case domain.StateStopped:
		r.mu.Lock()
		delete(r.instances, inst.id)
		r.mu.Unlock()
		metrics.InstanceStopped()
	}
}

func (r *Registry) record(inst *Instance, typ domain.EventType, payload interface{}) {
	if err := r.journal.AppendEvent(context.Background(), inst.id, typ, payload); err != nil {
		inst.log.Warn("failed to journal event", zap.String("type", string(typ)), zap.Error(err))
	}
}
