package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"wildtrack/internal/registry"
	"wildtrack/pkg/domain"
)

// kindIndexes lists the attributes each registry keeps equality indexes on.
var kindIndexes = map[domain.Kind][]string{
	domain.KindAnimal:        {"species", "habitat_id"},
	domain.KindHabitat:       {"geographic_area", "environment_type"},
	domain.KindMigrationPath: {"species"},
	domain.KindMigration:     {"status", "path_id", "current_location"},
	domain.KindMeal:          {"cuisine"},
}

// Service exposes the habitat, animal, migration and meal managers over one
// registry per kind. Mutations are serialized and evaluated against the rules
// engine before they are kept; queries wait for any mutation in flight, so
// they never see changes that a failed step or a blocking rule reverts.
// Rules must read through their domain.RuleView, not through the Service.
type Service struct {
	mu         sync.RWMutex
	registries map[domain.Kind]*registry.Registry
	backend    domain.Backend
	engine     *domain.RulesEngine
	logger     Logger
	metrics    MetricsRecorder
	tracer     Tracer
	audit      AuditRecorder
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger routes service logs to l.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used for record timestamps and audit entries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetricsRecorder records operation outcomes and latency.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer opens a span per operation.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithAuditRecorder receives an entry per mutation.
func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithRulesEngine replaces the default rules engine. A nil engine disables
// rule evaluation.
func WithRulesEngine(engine *domain.RulesEngine) Option {
	return func(s *Service) { s.engine = engine }
}

// NewService opens one registry per kind over backend, hydrating each from
// it. A nil backend keeps all state in memory.
func NewService(ctx context.Context, backend domain.Backend, opts ...Option) (*Service, error) {
	s := &Service{
		registries: make(map[domain.Kind]*registry.Registry, len(domain.Kinds())),
		backend:    backend,
		engine:     NewDefaultRulesEngine(),
		logger:     noopLogger{},
		metrics:    noopMetrics{},
		tracer:     noopTracer{},
		audit:      noopAudit{},
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, kind := range domain.Kinds() {
		regOpts := []registry.Option{
			registry.WithIndex(kindIndexes[kind]...),
			registry.WithClock(s.now),
		}
		if backend != nil {
			regOpts = append(regOpts, registry.WithBackend(backend))
		}
		reg, err := registry.Open(ctx, kind, regOpts...)
		if err != nil {
			return nil, fmt.Errorf("open %s registry: %w", kind, err)
		}
		s.registries[kind] = reg
	}
	s.logger.Debug("service ready", "backend", backend != nil, "rules", s.RuleNames())
	return s, nil
}

// NewInMemoryService builds a service without a persistence backend.
func NewInMemoryService(opts ...Option) *Service {
	s, err := NewService(context.Background(), nil, opts...)
	if err != nil {
		// Registries without a backend only fail on schema errors, which are static.
		panic(err)
	}
	return s
}

// Registry returns the registry holding records of kind.
func (s *Service) Registry(kind domain.Kind) (*registry.Registry, error) {
	reg, ok := s.registries[kind]
	if !ok {
		return nil, domain.ValidationError{Kind: kind, Reason: "unknown entity kind"}
	}
	return reg, nil
}

// RuleNames lists the rules evaluated after each mutation.
func (s *Service) RuleNames() []string {
	if s.engine == nil {
		return nil
	}
	return s.engine.Rules()
}

// Close releases the persistence backend.
func (s *Service) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}

// Create stores a record of any kind.
func (s *Service) Create(ctx context.Context, kind domain.Kind, attrs domain.Attributes) (domain.Entity, domain.Result, error) {
	var created domain.Entity
	res, err := s.mutate(ctx, "create_"+string(kind), kind, func(tx *Transaction) error {
		var err error
		created, err = tx.Create(kind, attrs)
		return err
	})
	return created, res, err
}

// Update applies patch to a live record of any kind.
func (s *Service) Update(ctx context.Context, kind domain.Kind, id int64, patch domain.Attributes) (domain.Entity, domain.Result, error) {
	var updated domain.Entity
	res, err := s.mutate(ctx, "update_"+string(kind), kind, func(tx *Transaction) error {
		var err error
		updated, err = tx.Update(kind, id, patch)
		return err
	})
	return updated, res, err
}

// Remove soft-deletes a live record of any kind.
func (s *Service) Remove(ctx context.Context, kind domain.Kind, id int64) (domain.Result, error) {
	return s.mutate(ctx, "remove_"+string(kind), kind, func(tx *Transaction) error {
		return tx.Remove(kind, id)
	})
}

// Get returns a live record of any kind.
func (s *Service) Get(ctx context.Context, kind domain.Kind, id int64) (domain.Entity, error) {
	var out domain.Entity
	err := s.read(ctx, "get_"+string(kind), func() error {
		reg, err := s.Registry(kind)
		if err != nil {
			return err
		}
		out, err = reg.Get(id)
		return err
	})
	return out, err
}

// List returns the live records of kind matching filter in creation order.
func (s *Service) List(ctx context.Context, kind domain.Kind, filter domain.Filter) ([]domain.Entity, error) {
	var out []domain.Entity
	err := s.read(ctx, "list_"+string(kind), func() error {
		reg, err := s.Registry(kind)
		if err != nil {
			return err
		}
		out, err = reg.ListBy(filter)
		return err
	})
	return out, err
}

// Transaction collects the changes applied by one service mutation so they
// can be reverted when a step fails or a rule blocks.
type Transaction struct {
	svc     *Service
	ctx     context.Context
	changes []domain.Change
}

// Create stores a record and tracks the change.
func (tx *Transaction) Create(kind domain.Kind, attrs domain.Attributes) (domain.Entity, error) {
	reg, err := tx.svc.Registry(kind)
	if err != nil {
		return domain.Entity{}, err
	}
	change, err := reg.CreateTracked(tx.ctx, attrs)
	if err != nil {
		return domain.Entity{}, err
	}
	tx.changes = append(tx.changes, change)
	return change.After.Clone(), nil
}

// Update patches a live record and tracks the change.
func (tx *Transaction) Update(kind domain.Kind, id int64, patch domain.Attributes) (domain.Entity, error) {
	reg, err := tx.svc.Registry(kind)
	if err != nil {
		return domain.Entity{}, err
	}
	change, err := reg.UpdateTracked(tx.ctx, id, patch)
	if err != nil {
		return domain.Entity{}, err
	}
	tx.changes = append(tx.changes, change)
	return change.After.Clone(), nil
}

// Remove soft-deletes a live record and tracks the change.
func (tx *Transaction) Remove(kind domain.Kind, id int64) error {
	reg, err := tx.svc.Registry(kind)
	if err != nil {
		return err
	}
	change, err := reg.RemoveTracked(tx.ctx, id)
	if err != nil {
		return err
	}
	tx.changes = append(tx.changes, change)
	return nil
}

// Get reads a live record inside the transaction.
func (tx *Transaction) Get(kind domain.Kind, id int64) (domain.Entity, error) {
	reg, err := tx.svc.Registry(kind)
	if err != nil {
		return domain.Entity{}, err
	}
	return reg.Get(id)
}

// Changes returns the changes applied so far.
func (tx *Transaction) Changes() []domain.Change {
	out := make([]domain.Change, len(tx.changes))
	copy(out, tx.changes)
	return out
}

// mutate runs fn under the service lock inside a span, then evaluates the
// rules engine over the applied changes. Changes are reverted in reverse
// order when fn fails or a rule blocks.
func (s *Service) mutate(ctx context.Context, op string, kind domain.Kind, fn func(tx *Transaction) error) (domain.Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	tx := &Transaction{svc: s, ctx: ctx}

	s.mu.Lock()
	res, err := s.apply(ctx, tx, fn)
	s.mu.Unlock()

	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))

	entry := AuditEntry{
		ID:         uuid.NewString(),
		Operation:  op,
		Status:     AuditStatusSuccess,
		Kind:       kind,
		Violations: len(res.Violations),
		At:         s.now(),
	}
	if len(tx.changes) > 0 {
		entry.EntityID = tx.changes[0].EntityID()
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Error("operation failed", "operation", op, "kind", kind, "error", err)
	} else {
		s.logger.Info("operation completed", "operation", op, "kind", kind, "changes", len(tx.changes), "violations", len(res.Violations))
	}
	s.audit.Record(ctx, entry)
	return res, err
}

func (s *Service) apply(ctx context.Context, tx *Transaction, fn func(tx *Transaction) error) (domain.Result, error) {
	if err := fn(tx); err != nil {
		s.revert(ctx, tx.changes)
		return domain.Result{}, err
	}
	res, err := s.engine.Evaluate(ctx, serviceView{s}, tx.Changes())
	if err != nil {
		s.revert(ctx, tx.changes)
		return domain.Result{}, fmt.Errorf("evaluate rules: %w", err)
	}
	if res.HasBlocking() {
		s.revert(ctx, tx.changes)
		return res, domain.RuleViolationError{Result: res}
	}
	for _, v := range res.Violations {
		s.logger.Warn("rule violation", "rule", v.Rule, "severity", string(v.Severity), "kind", v.Kind, "id", v.EntityID, "message", v.Message)
	}
	return res, nil
}

func (s *Service) revert(ctx context.Context, changes []domain.Change) {
	for i := len(changes) - 1; i >= 0; i-- {
		change := changes[i]
		reg := s.registries[change.Kind]
		if err := reg.Revert(ctx, change); err != nil {
			s.logger.Error("revert failed", "kind", change.Kind, "id", change.EntityID(), "error", err)
		}
	}
}

// read runs a query under the read lock inside a span and records its
// metrics. Missing records are expected outcomes and logged at debug level.
func (s *Service) read(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	s.mu.RLock()
	err := fn()
	s.mu.RUnlock()
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	if err != nil && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrValidation) {
		s.logger.Error("query failed", "operation", op, "error", err)
	} else if err != nil {
		s.logger.Debug("query rejected", "operation", op, "error", err)
	}
	return err
}

// serviceView exposes live registry content to rules.
type serviceView struct {
	svc *Service
}

func (v serviceView) List(kind domain.Kind) []domain.Entity {
	reg, ok := v.svc.registries[kind]
	if !ok {
		return nil
	}
	out, err := reg.ListBy(domain.Filter{})
	if err != nil {
		return nil
	}
	return out
}

func (v serviceView) Find(kind domain.Kind, id int64) (domain.Entity, bool) {
	reg, ok := v.svc.registries[kind]
	if !ok {
		return domain.Entity{}, false
	}
	e, err := reg.Get(id)
	if err != nil {
		return domain.Entity{}, false
	}
	return e, true
}
