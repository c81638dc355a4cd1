package grant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreauth/grantkit/instrumentation"
	"github.com/coreauth/grantkit/security"
	"github.com/coreauth/grantkit/storage"
)

// Dispatcher routes token requests to the granter registered for their grant
// type. Registration order decides which granter is asked first when several
// could serve the same type.
type Dispatcher struct {
	granters []Granter
	logger   *slog.Logger
	auditor  *security.Auditor
	inst     *instrumentation.Instrumentation
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithAuditor sets the security auditor for grant decisions.
func WithAuditor(auditor *security.Auditor) DispatcherOption {
	return func(d *Dispatcher) { d.auditor = auditor }
}

// WithInstrumentation sets OpenTelemetry instrumentation for the dispatcher.
func WithInstrumentation(inst *instrumentation.Instrumentation) DispatcherOption {
	return func(d *Dispatcher) { d.inst = inst }
}

// NewDispatcher creates a dispatcher over the given granters.
func NewDispatcher(granters []Granter, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		granters: granters,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Grant dispatches one token request. The client has already been
// authenticated by the caller; the dispatcher enforces that the client is
// registered for the grant type and that some granter serves it.
func (d *Dispatcher) Grant(ctx context.Context, req *TokenRequest, client *storage.Client) (*Outcome, error) {
	if req == nil || req.GrantType == "" {
		return nil, ErrInvalidRequest("grant_type is required")
	}
	if client == nil {
		return nil, ErrInvalidClient("client is required")
	}

	if !client.AllowsGrantType(req.GrantType) {
		d.auditor.LogGrantDenied("", client.ClientID, req.GrantType, "grant type not registered for client")
		return nil, ErrUnauthorizedClient("client is not registered for this grant type")
	}

	granter := d.selectGranter(req.GrantType, client)
	if granter == nil {
		d.logger.Debug("No granter for grant type", "grant_type", req.GrantType)
		return nil, ErrUnsupportedGrantType(fmt.Sprintf("unsupported grant_type %q", req.GrantType))
	}

	startTime := time.Now()
	outcome, err := granter.Grant(ctx, req, client)
	durationMs := float64(time.Since(startTime).Milliseconds())

	// Collaborator deadline overruns surface as a transient grant error,
	// never as a raw I/O error.
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		err = ErrTemporarilyUnavailable("a downstream service did not respond in time")
	}

	d.record(ctx, req.GrantType, outcome, err, durationMs)
	return outcome, err
}

// selectGranter returns the first registered granter that handles the grant
// type for this client.
func (d *Dispatcher) selectGranter(grantType string, client *storage.Client) Granter {
	for _, g := range d.granters {
		if g.Handles(grantType, client) {
			return g
		}
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, grantType string, outcome *Outcome, err error, durationMs float64) {
	if d.inst == nil {
		return
	}

	result := "success"
	switch {
	case err != nil:
		result = "error"
	case outcome != nil && outcome.NeedInfo != nil:
		result = "need_info"
		d.inst.Metrics().RecordNeedInfo(ctx)
	default:
		d.inst.Metrics().RecordTokenIssued(ctx, grantType)
	}

	d.inst.Metrics().RecordGrant(ctx, grantType, result, durationMs)
}
