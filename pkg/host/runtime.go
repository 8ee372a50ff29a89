package host

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/platinummonkey/pullpay/pkg/audit"
	"github.com/platinummonkey/pullpay/pkg/authz"
	"github.com/platinummonkey/pullpay/pkg/billing"
	"github.com/platinummonkey/pullpay/pkg/contextkeys"
	"github.com/platinummonkey/pullpay/pkg/ledger"
	"github.com/platinummonkey/pullpay/pkg/plugins"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrPluginNotInstalled is returned for calls to an unknown plugin
	ErrPluginNotInstalled = errors.New("plugin not installed")

	// ErrPermissionDenied is returned when a plugin uses a capability its manifest does not grant
	ErrPermissionDenied = errors.New("permission denied")
)

var hostTracer = otel.Tracer("pullpay/host")

// Call is an inbound invocation of a plugin operation
type Call struct {
	PluginID   string
	Operation  authz.OperationID
	Path       authz.CallPath
	Caller     string
	Args       any
	Credential string
}

// Receiver is notified when an account receives a transfer. It runs inside
// the invocation that issued the transfer and may call back into the
// runtime; returning an error reverses the transfer.
type Receiver func(ctx context.Context, from string, amount uint64) error

type installed struct {
	plugin    plugins.Plugin
	binder    *authz.Binder
	providers []authz.Authorizer
}

// Runtime hosts plugins on behalf of accounts. Top-level invocations are
// serialized; calls re-entering from within an invocation join it.
type Runtime struct {
	invokeMu sync.Mutex

	mu        sync.RWMutex
	plugins   map[string]*installed
	receivers map[string]Receiver

	registry *plugins.Registry
	bank     Bank
	logger   logrus.FieldLogger
	audit    audit.Logger
	observe  func(op authz.OperationID, path authz.CallPath, allowed bool)
}

// Option configures a Runtime
type Option func(*Runtime)

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// WithAuditLogger sets the audit sink
func WithAuditLogger(l audit.Logger) Option {
	return func(r *Runtime) {
		r.audit = l
	}
}

// WithDecisionObserver registers a callback for every authorization decision
func WithDecisionObserver(fn func(op authz.OperationID, path authz.CallPath, allowed bool)) Option {
	return func(r *Runtime) {
		r.observe = fn
	}
}

// NewRuntime creates a runtime backed by bank
func NewRuntime(bank Bank, opts ...Option) *Runtime {
	r := &Runtime{
		plugins:   make(map[string]*installed),
		receivers: make(map[string]Receiver),
		registry:  plugins.NewRegistry(),
		bank:      bank,
		logger:    logrus.StandardLogger(),
		audit:     audit.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bank returns the runtime's bank
func (r *Runtime) Bank() Bank {
	return r.bank
}

// Registry returns the registry of installed plugins
func (r *Runtime) Registry() *plugins.Registry {
	return r.registry
}

// Install validates the plugin's manifest, resolves its dependencies to
// providers (by position) and builds its binder. An incomplete or malformed
// declaration is rejected here so the plugin never starts.
func (r *Runtime) Install(plugin plugins.Plugin, providers []authz.Authorizer) error {
	manifest := plugin.Manifest()
	if manifest == nil {
		return fmt.Errorf("plugin has nil manifest")
	}

	binder, err := r.buildBinder(manifest, providers)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.registry.Register(plugin, "builtin"); err != nil {
		return err
	}
	r.plugins[manifest.ID] = &installed{
		plugin:    plugin,
		binder:    binder,
		providers: providers,
	}

	r.logger.WithFields(logrus.Fields{
		"plugin":  manifest.ID,
		"version": manifest.Version,
	}).Info("Plugin installed")
	r.logAudit(context.Background(), pluginEvent(audit.EventTypePluginInstall, manifest))

	return nil
}

// Rebind replaces an installed plugin's manifest. The new manifest must be
// valid and complete; otherwise the current binding stays in effect.
func (r *Runtime) Rebind(pluginID string, manifest *plugins.Manifest) error {
	if manifest.ID != pluginID {
		return fmt.Errorf("manifest id %q does not match plugin %q", manifest.ID, pluginID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.plugins[pluginID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotInstalled, pluginID)
	}

	binder, err := r.buildBinder(manifest, inst.providers)
	if err != nil {
		return err
	}
	if err := r.registry.SetManifest(pluginID, manifest); err != nil {
		return err
	}
	inst.binder = binder

	r.logger.WithField("plugin", pluginID).Info("Plugin rebound")
	r.logAudit(context.Background(), pluginEvent(audit.EventTypePluginRebind, manifest))

	return nil
}

func (r *Runtime) buildBinder(manifest *plugins.Manifest, providers []authz.Authorizer) (*authz.Binder, error) {
	if err := plugins.ManifestError(plugins.ValidateManifest(manifest)); err != nil {
		return nil, err
	}
	if len(providers) != len(manifest.Dependencies) {
		return nil, fmt.Errorf("%w: %d dependencies declared, %d providers supplied",
			authz.ErrInvalidBinding, len(manifest.Dependencies), len(providers))
	}

	opts := []authz.Option{authz.WithLogger(r.logger)}
	if r.observe != nil {
		opts = append(opts, authz.WithObserver(r.observe))
	}
	return authz.NewBinder(manifest.ExecutionFunctions, manifest.Bindings, providers, opts...)
}

func (r *Runtime) lookup(pluginID string) (*installed, *plugins.Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.plugins[pluginID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrPluginNotInstalled, pluginID)
	}
	info, _ := r.registry.Info(pluginID)
	return inst, info.Manifest, nil
}

// OnReceive registers fn to be notified of transfers into account
func (r *Runtime) OnReceive(account string, fn Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if fn == nil {
		delete(r.receivers, account)
		return
	}
	r.receivers[account] = fn
}

// Invoke authorizes call against the plugin's binder and, if approved,
// executes it. Operations the plugin does not declare are denied.
func (r *Runtime) Invoke(ctx context.Context, call Call) (any, error) {
	if !contextkeys.InInvocation(ctx, r) {
		r.invokeMu.Lock()
		defer r.invokeMu.Unlock()
		ctx = contextkeys.WithInvocation(ctx, r)
	}
	ctx = contextkeys.WithCaller(ctx, call.Caller)

	ctx, span := hostTracer.Start(ctx, "Invoke",
		trace.WithAttributes(
			attribute.String("plugin", call.PluginID),
			attribute.String("operation", string(call.Operation)),
			attribute.String("path", string(call.Path)),
			attribute.String("caller", call.Caller),
		),
	)
	defer span.End()

	inst, manifest, err := r.lookup(call.PluginID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "plugin not installed")
		return nil, err
	}

	req := authz.Request{
		Operation:  call.Operation,
		Path:       call.Path,
		Caller:     call.Caller,
		Args:       call.Args,
		Credential: call.Credential,
	}

	if !manifest.HasOperation(call.Operation) {
		err := fmt.Errorf("%w: unknown operation %q", authz.ErrUnauthorized, call.Operation)
		r.denied(ctx, call, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown operation")
		return nil, err
	}

	if err := inst.binder.Check(ctx, req); err != nil {
		r.denied(ctx, call, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unauthorized")
		return nil, err
	}

	out, err := inst.plugin.Execute(ctx, plugins.Invocation{
		Operation: call.Operation,
		Caller:    call.Caller,
		Args:      call.Args,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		return nil, err
	}

	span.SetStatus(codes.Ok, "invocation completed")
	return out, nil
}

func (r *Runtime) denied(ctx context.Context, call Call, err error) {
	ev := audit.NewEvent(ctx, audit.EventTypeAuthzDenied, audit.EventStatusDenied).WithError(err)
	ev.Caller = call.Caller
	ev.PluginID = call.PluginID
	ev.Operation = string(call.Operation)
	ev.Path = string(call.Path)
	r.logAudit(ctx, ev)
}

// Executor returns the Debiter through which pluginID moves funds. The
// plugin must be installed and its manifest must grant
// can_spend_native_token at the time of each debit.
func (r *Runtime) Executor(pluginID string) billing.Debiter {
	return &executor{runtime: r, pluginID: pluginID}
}

type executor struct {
	runtime  *Runtime
	pluginID string
}

func (e *executor) Debit(ctx context.Context, d billing.Debit) error {
	r := e.runtime

	_, manifest, err := r.lookup(e.pluginID)
	if err != nil {
		return err
	}
	if !manifest.Permissions.CanSpendNativeToken {
		return fmt.Errorf("%w: %s may not spend native token", ErrPermissionDenied, e.pluginID)
	}

	if err := r.bank.Transfer(ctx, d.From, d.To, d.Amount); err != nil {
		return err
	}

	r.mu.RLock()
	recv := r.receivers[d.To]
	r.mu.RUnlock()
	if recv != nil {
		if err := recv(ctx, d.From, d.Amount); err != nil {
			if rbErr := r.bank.Transfer(ctx, d.To, d.From, d.Amount); rbErr != nil {
				return errors.Join(fmt.Errorf("receiver %s rejected transfer: %w", d.To, err),
					fmt.Errorf("failed to reverse transfer: %w", rbErr))
			}
			return fmt.Errorf("receiver %s rejected transfer: %w", d.To, err)
		}
	}

	// The debit is final only once the ledger unit that issued it commits.
	ledger.OnAbort(ctx, func(ctx context.Context) error {
		r.logger.WithFields(logrus.Fields{
			"plugin": e.pluginID,
			"from":   d.From,
			"to":     d.To,
			"amount": d.Amount,
		}).Warn("Ledger unit aborted, reversing debit")
		return r.bank.Transfer(ctx, d.To, d.From, d.Amount)
	})

	return nil
}

func (r *Runtime) logAudit(ctx context.Context, ev *audit.AuditEvent) {
	if err := r.audit.Log(ctx, ev); err != nil {
		r.logger.WithError(err).Warn("Failed to write audit event")
	}
}

func pluginEvent(t audit.EventType, m *plugins.Manifest) *audit.AuditEvent {
	ev := audit.NewEvent(context.Background(), t, audit.EventStatusSuccess)
	ev.PluginID = m.ID
	ev.Metadata = map[string]interface{}{"version": m.Version}
	return ev
}
