package growth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"growth-pipeline/pkg/config"
	"growth-pipeline/pkg/errutil"
	"growth-pipeline/services/antifraud"
	"growth-pipeline/services/eventbus"
	"growth-pipeline/services/growthevent"
	"growth-pipeline/services/ledger"
	"growth-pipeline/services/rule"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("growth-pipeline/services/growth")

type RuleLoader interface {
	Load(ctx context.Context, e *growthevent.GrowthEvent) (rule.RuleSet, error)
}

type Checker interface {
	Check(ctx context.Context, e *growthevent.GrowthEvent, in antifraud.Input) (antifraud.Decision, error)
}

// Service accepts growth events and drives each one to a terminal status.
type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	bus       eventbus.Bus[growthevent.Input]
	store     *growthevent.Store
	rules     RuleLoader
	antifraud Checker
	engine    *ledger.Engine

	now            func() time.Time
	reconcileGrace time.Duration
	reconcileBatch int
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Bus       eventbus.Bus[growthevent.Input]
	Store     *growthevent.Store
	Rules     RuleLoader
	Antifraud Checker
	Engine    *ledger.Engine
	Config    *config.Config `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		db:             p.DB,
		node:           p.Node,
		bus:            p.Bus,
		store:          p.Store,
		rules:          p.Rules,
		antifraud:      p.Antifraud,
		engine:         p.Engine,
		now:            time.Now,
		reconcileGrace: 10 * time.Minute,
		reconcileBatch: 100,
	}
	if p.Config != nil {
		if g := p.Config.Growth.Reconcile.GracePeriod; g > 0 {
			s.reconcileGrace = g
		}
		if b := p.Config.Growth.Reconcile.BatchSize; b > 0 {
			s.reconcileBatch = b
		}
	}
	return s
}

func validate(in growthevent.Input) error {
	var details []errutil.Detail
	if in.Business == "" {
		details = append(details, errutil.Detail{Field: "business", Message: "is required"})
	}
	if in.EventKey == "" {
		details = append(details, errutil.Detail{Field: "eventKey", Message: "is required"})
	}
	if in.UserID <= 0 {
		details = append(details, errutil.Detail{Field: "userId", Message: "must be positive"})
	}
	if len(details) > 0 {
		return errutil.BadRequest("invalid growth event", nil, errutil.WithDetails(details...))
	}
	return nil
}

// HandleEvent validates and publishes an event. It returns the assigned id
// without waiting for processing.
func (s *Service) HandleEvent(ctx context.Context, in growthevent.Input) (int64, error) {
	if err := validate(in); err != nil {
		return 0, err
	}

	in.ID = s.node.Generate().Int64()
	if in.OccurredAt.IsZero() {
		in.OccurredAt = s.now()
	}
	in.OccurredAt = in.OccurredAt.UTC()

	if err := s.bus.Publish(ctx, in); err != nil {
		return 0, fmt.Errorf("publish growth event: %w", err)
	}
	received.Inc()
	return in.ID, nil
}

// Process is the bus handler. A returned error means the event is still
// PENDING or was never recorded; the bus decides whether to retry.
func (s *Service) Process(ctx context.Context, msg growthevent.Input) error {
	ctx, span := tracer.Start(ctx, "growth.Process", trace.WithAttributes(
		attribute.Int64("growth.event_id", msg.ID),
		attribute.String("growth.business", msg.Business),
		attribute.String("growth.event_key", msg.EventKey),
	))
	defer span.End()

	start := time.Now()
	defer func() { processing.Observe(time.Since(start).Seconds()) }()

	if err := s.process(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (s *Service) process(ctx context.Context, msg growthevent.Input) error {
	log := s.logger(ctx, msg.ID, msg.Business, msg.EventKey, msg.UserID)

	if msg.ID != 0 {
		existing, err := s.store.Get(ctx, msg.ID)
		if err != nil {
			return fmt.Errorf("read growth event %d: %w", msg.ID, err)
		}
		if existing != nil {
			if existing.Status.Terminal() {
				log.Debug("growth event already finalized", zap.String("status", string(existing.Status)))
				return nil
			}
			log.Info("resuming pending growth event")
			return s.run(ctx, existing)
		}
	}

	dup, err := s.store.FindDuplicate(ctx, msg)
	if err != nil {
		return err
	}
	if dup != nil {
		if _, err := s.store.CreateEvent(ctx, msg, growthevent.StatusIgnoredDuplicate); err != nil {
			return err
		}
		log.Info("duplicate growth event ignored", zap.Int64("duplicate_of", dup.ID))
		finalized.WithLabelValues(string(growthevent.StatusIgnoredDuplicate)).Inc()
		return nil
	}

	event, err := s.store.CreateEvent(ctx, msg, growthevent.StatusPending)
	if err != nil {
		return err
	}
	return s.run(ctx, event)
}

// run takes a PENDING record through rules, antifraud and the engine.
func (s *Service) run(ctx context.Context, event *growthevent.GrowthEvent) error {
	log := s.logger(ctx, event.ID, event.Business, event.EventKey, event.UserID)

	set, err := s.rules.Load(ctx, event)
	if err != nil {
		return err
	}
	if set.Empty() {
		return s.finalize(ctx, log, event, growthevent.StatusIgnoredRuleNotFound)
	}

	decision, err := s.antifraud.Check(ctx, event, antifraud.Input{
		CooldownSeconds: set.MaxCooldown(),
		Points:          set.MaxPoints(),
		Experience:      set.MaxExperience(),
	})
	if err != nil {
		return err
	}
	if !decision.Allow {
		log.Info("growth event rejected", zap.String("reason", decision.Reason))
		return s.finalize(ctx, log, event, growthevent.StatusRejectedAntifraud)
	}

	res, err := s.apply(ctx, event, set)
	var be errutil.BaseError
	switch {
	case err == nil:
		log.Info("growth event processed",
			zap.Int64("points", res.PointsDelta),
			zap.Int64("experience", res.ExperienceDelta),
			zap.Int64s("badges", res.AssignedBadges),
		)
		finalized.WithLabelValues(string(growthevent.StatusProcessed)).Inc()
		return nil
	case errors.Is(err, growthevent.ErrNotPending):
		log.Warn("growth event finalized concurrently")
		return nil
	case errors.As(err, &be):
		log.Warn("growth event failed", zap.Error(err))
		return s.finalize(ctx, log, event, growthevent.StatusFailed)
	default:
		log.Error("growth event apply aborted, left pending", zap.Error(err))
		return err
	}
}

// apply writes the ledger and the PROCESSED status in one transaction.
func (s *Service) apply(ctx context.Context, event *growthevent.GrowthEvent, set rule.RuleSet) (*ledger.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.engine.Timeout())
	defer cancel()

	var res *ledger.Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := s.engine.ApplyTx(ctx, tx, ledger.Input{Event: event, Rules: set})
		if err != nil {
			return err
		}
		if err := s.store.WithTrx(tx).UpdateStatus(ctx, event.ID, growthevent.StatusProcessed, r.Outcome()); err != nil {
			return err
		}
		res = r
		return nil
	})
	return res, err
}

func (s *Service) finalize(ctx context.Context, log *zap.Logger, event *growthevent.GrowthEvent, status growthevent.Status) error {
	err := s.store.UpdateStatus(ctx, event.ID, status, nil)
	if errors.Is(err, growthevent.ErrNotPending) {
		log.Warn("growth event finalized concurrently", zap.String("status", string(status)))
		return nil
	}
	if err != nil {
		return err
	}
	finalized.WithLabelValues(string(status)).Inc()
	return nil
}

// Reconcile re-runs PENDING records older than the grace period and returns
// how many reached a terminal status.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	stale, err := s.store.FindStalePending(ctx, s.now().Add(-s.reconcileGrace), s.reconcileBatch)
	if err != nil {
		return 0, fmt.Errorf("find stale pending: %w", err)
	}

	done := 0
	for _, event := range stale {
		if err := s.run(ctx, event); err != nil {
			zap.L().Warn("reconcile attempt failed", zap.Int64("event_id", event.ID), zap.Error(err))
			continue
		}
		done++
	}
	if len(stale) > 0 {
		reconciled.Add(float64(done))
		zap.L().Info("reconciled pending growth events", zap.Int("found", len(stale)), zap.Int("finalized", done))
	}
	return done, nil
}

func (s *Service) logger(ctx context.Context, id int64, business, eventKey string, userID int64) *zap.Logger {
	fields := []zap.Field{
		zap.Int64("event_id", id),
		zap.String("business", business),
		zap.String("event_key", eventKey),
		zap.Int64("user_id", userID),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	return zap.L().With(fields...)
}
