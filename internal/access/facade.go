// ABOUTME: Unified CRUD surface over the remote relational store and the local durable store
// ABOUTME: Picks the store per operation and falls back to local storage when remote is unavailable

package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/blvckwall/blvckwall-gateway/internal/localstore"
	"github.com/blvckwall/blvckwall-gateway/internal/record"
	"github.com/blvckwall/blvckwall-gateway/internal/remote"
	"github.com/blvckwall/blvckwall-gateway/internal/session"
)

const instrumentationName = "github.com/blvckwall/blvckwall-gateway/internal/access"

// Mode says which store an operation tries first.
type Mode string

const (
	// ModeRemote tries the remote store and falls back to local on outage.
	ModeRemote Mode = "remote"
	// ModeLocalDemo serves the demo owner from the local store only.
	ModeLocalDemo Mode = "local-demo"
)

// Store names used in logs, span attributes and metrics.
const (
	servedRemote = "remote"
	servedLocal  = "local"
)

// RemoteStore is the owner-scoped remote relational store. *remote.Client
// implements it.
type RemoteStore interface {
	List(ctx context.Context, ownerID string, c record.Category, f record.Filter) ([]*record.Record, error)
	Get(ctx context.Context, ownerID string, c record.Category, id string) (*record.Record, error)
	Insert(ctx context.Context, ownerID string, c record.Category, fields map[string]any) (*record.Record, error)
	Update(ctx context.Context, ownerID string, c record.Category, id string, patch map[string]any) (*record.Record, error)
	Delete(ctx context.Context, ownerID string, c record.Category, id string) error
}

// LocalStore is the encrypted device store. *localstore.Store implements it.
type LocalStore interface {
	PutRecord(ctx context.Context, r *record.Record) error
	GetRecord(ctx context.Context, ownerID string, c record.Category, id string) (*record.Record, error)
	ListRecords(ctx context.Context, ownerID string, c record.Category, f record.Filter) ([]*record.Record, error)
	UpdateRecord(ctx context.Context, ownerID string, c record.Category, id string, patch map[string]any) (*record.Record, error)
	DeleteRecord(ctx context.Context, ownerID string, c record.Category, id string) error
}

// OwnerResolver yields the owner for an operation, or record.DemoOwner.
// *session.Provider implements it.
type OwnerResolver interface {
	ResolveOwnerOrDemo(ctx context.Context) record.Owner
}

var (
	_ RemoteStore   = (*remote.Client)(nil)
	_ LocalStore    = (*localstore.Store)(nil)
	_ OwnerResolver = (*session.Provider)(nil)
)

// Facade is the single list/get/create/update/delete surface per category.
// Each call makes at most two sequential store calls.
type Facade struct {
	remote   RemoteStore
	local    LocalStore
	owners   OwnerResolver
	logger   *slog.Logger
	tracer   trace.Tracer
	fallback metric.Int64Counter
}

// Option configures a Facade.
type Option func(*facadeOptions)

type facadeOptions struct {
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
}

// WithLogger sets the facade's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *facadeOptions) { o.logger = logger }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *facadeOptions) { o.tracer = t }
}

// WithMeter overrides the global meter.
func WithMeter(m metric.Meter) Option {
	return func(o *facadeOptions) { o.meter = m }
}

// New creates a Facade.
func New(rs RemoteStore, ls LocalStore, owners OwnerResolver, opts ...Option) (*Facade, error) {
	o := facadeOptions{
		logger: slog.Default(),
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(&o)
	}

	fallback, err := o.meter.Int64Counter(
		"access.fallback",
		metric.WithDescription("Operations served by the local store because the remote store was unavailable"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create fallback counter: %w", err)
	}

	return &Facade{
		remote:   rs,
		local:    ls,
		owners:   owners,
		logger:   o.logger.With("component", "access"),
		tracer:   o.tracer,
		fallback: fallback,
	}, nil
}

// Mode reports how the next operation would be routed for the current owner.
func (f *Facade) Mode(ctx context.Context) Mode {
	return modeFor(f.owners.ResolveOwnerOrDemo(ctx))
}

func modeFor(owner record.Owner) Mode {
	if owner.IsDemo() {
		return ModeLocalDemo
	}
	return ModeRemote
}

// List returns the owner's records in c, newest first. Results come from
// exactly one store.
func (f *Facade) List(ctx context.Context, c record.Category, filter record.Filter) (records []*record.Record, err error) {
	if err := checkCategory(c); err != nil {
		return nil, err
	}
	ctx, owner, span := f.begin(ctx, "list", c)
	defer func() { end(span, err) }()

	if owner.IsDemo() {
		served(span, servedLocal)
		return f.local.ListRecords(ctx, owner.ID, c, filter)
	}

	records, err = f.remote.List(ctx, owner.ID, c, filter)
	if !isUnavailable(err) {
		served(span, servedRemote)
		return records, err
	}
	f.degrade(ctx, span, "list", c, err)
	return f.local.ListRecords(ctx, owner.ID, c, filter)
}

// Get returns one record.
func (f *Facade) Get(ctx context.Context, c record.Category, id string) (rec *record.Record, err error) {
	if err := checkCategory(c); err != nil {
		return nil, err
	}
	ctx, owner, span := f.begin(ctx, "get", c)
	defer func() { end(span, err) }()

	if owner.IsDemo() {
		served(span, servedLocal)
		return f.local.GetRecord(ctx, owner.ID, c, id)
	}

	rec, err = f.remote.Get(ctx, owner.ID, c, id)
	if !isUnavailable(err) {
		served(span, servedRemote)
		return rec, err
	}
	f.degrade(ctx, span, "get", c, err)
	return f.local.GetRecord(ctx, owner.ID, c, id)
}

// Create validates fields and stores a new record. Every violation is
// reported before any store is touched.
func (f *Facade) Create(ctx context.Context, c record.Category, fields map[string]any) (rec *record.Record, err error) {
	if err := checkCategory(c); err != nil {
		return nil, err
	}
	if err := record.ValidateCreate(c, fields); err != nil {
		return nil, err
	}
	ctx, owner, span := f.begin(ctx, "create", c)
	defer func() { end(span, err) }()

	if owner.IsDemo() {
		served(span, servedLocal)
		return f.createLocal(ctx, owner, c, fields)
	}

	rec, err = f.remote.Insert(ctx, owner.ID, c, fields)
	if !isUnavailable(err) {
		served(span, servedRemote)
		return rec, err
	}
	f.degrade(ctx, span, "create", c, err)
	return f.createLocal(ctx, owner, c, fields)
}

func (f *Facade) createLocal(ctx context.Context, owner record.Owner, c record.Category, fields map[string]any) (*record.Record, error) {
	rec, err := record.FromFields(owner.ID, c, fields)
	if err != nil {
		return nil, err
	}
	if err := f.local.PutRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update applies a partial patch. Only the fields present are validated.
func (f *Facade) Update(ctx context.Context, c record.Category, id string, patch map[string]any) (rec *record.Record, err error) {
	if err := checkCategory(c); err != nil {
		return nil, err
	}
	if err := record.ValidateUpdate(c, patch); err != nil {
		return nil, err
	}
	ctx, owner, span := f.begin(ctx, "update", c)
	defer func() { end(span, err) }()

	if owner.IsDemo() {
		served(span, servedLocal)
		return f.local.UpdateRecord(ctx, owner.ID, c, id, patch)
	}

	rec, err = f.remote.Update(ctx, owner.ID, c, id, patch)
	if !isUnavailable(err) {
		served(span, servedRemote)
		return rec, err
	}
	f.degrade(ctx, span, "update", c, err)
	return f.local.UpdateRecord(ctx, owner.ID, c, id, patch)
}

// Delete removes the record from both stores. It succeeds if either store
// removed it, returns record.ErrNotFound if neither had it, and fails only
// when both stores reject with something other than not found.
func (f *Facade) Delete(ctx context.Context, c record.Category, id string) (err error) {
	if err := checkCategory(c); err != nil {
		return err
	}
	ctx, owner, span := f.begin(ctx, "delete", c)
	defer func() { end(span, err) }()

	var remoteErr error
	if owner.IsDemo() {
		remoteErr = fmt.Errorf("demo owner has no remote rows: %w", record.ErrNotFound)
	} else {
		remoteErr = f.remote.Delete(ctx, owner.ID, c, id)
		if isUnavailable(remoteErr) {
			f.degrade(ctx, span, "delete", c, remoteErr)
		}
	}
	localErr := f.local.DeleteRecord(ctx, owner.ID, c, id)

	if remoteErr == nil || localErr == nil {
		return nil
	}
	remoteMissing := errors.Is(remoteErr, record.ErrNotFound)
	localMissing := errors.Is(localErr, record.ErrNotFound)
	switch {
	case errors.Is(remoteErr, record.ErrUnauthorized):
		return remoteErr
	case !remoteMissing && !localMissing:
		return errors.Join(remoteErr, localErr)
	case remoteMissing && localMissing:
		return fmt.Errorf("%s/%s: %w", c, id, record.ErrNotFound)
	default:
		// one store lacks the row and the other could not be reached
		f.logger.Warn("delete only partially confirmed", "category", c, "id", id,
			"remote_error", remoteErr, "local_error", localErr)
		return nil
	}
}

func (f *Facade) begin(ctx context.Context, op string, c record.Category) (context.Context, record.Owner, trace.Span) {
	owner := f.owners.ResolveOwnerOrDemo(ctx)
	ctx, span := f.tracer.Start(ctx, "access."+op,
		trace.WithAttributes(
			attribute.String("record.category", string(c)),
			attribute.String("access.mode", string(modeFor(owner))),
		),
	)
	return ctx, owner, span
}

func (f *Facade) degrade(ctx context.Context, span trace.Span, op string, c record.Category, cause error) {
	f.logger.Warn("remote store unavailable, using local store", "op", op, "category", c, "error", cause)
	span.AddEvent("fallback", trace.WithAttributes(attribute.String("error", cause.Error())))
	served(span, servedLocal)
	f.fallback.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("record.category", string(c)),
	))
}

func served(span trace.Span, store string) {
	span.SetAttributes(attribute.String("access.served_by", store))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, record.Kind(err))
	}
	span.End()
}

func isUnavailable(err error) bool {
	return errors.Is(err, record.ErrStoreUnavailable)
}

func checkCategory(c record.Category) error {
	if !c.Valid() {
		return record.NewValidationError(record.Violation{Field: "category", Message: fmt.Sprintf("unknown category %q", c)})
	}
	return nil
}
