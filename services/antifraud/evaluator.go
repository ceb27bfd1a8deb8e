package antifraud

import (
	"context"
	"fmt"
	"time"

	"growth-pipeline/pkg/util"
	"growth-pipeline/services/growthevent"

	"go.uber.org/zap"
)

// History answers the audit queries the evaluator needs.
type History interface {
	CountHistory(ctx context.Context, q growthevent.HistoryQuery) (int64, error)
	ExistsHistory(ctx context.Context, q growthevent.HistoryQuery) (bool, error)
}

var dimensions = []growthevent.Dimension{
	growthevent.DimensionUser,
	growthevent.DimensionIP,
	growthevent.DimensionDevice,
}

// Evaluator decides whether an event may be rewarded. It never writes.
type Evaluator struct {
	cache   ConfigCache
	history History
	loc     *time.Location
}

func NewEvaluator(cache ConfigCache, history History, loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{cache: cache, history: history, loc: loc}
}

// Cache exposes the config cache for invalidation.
func (e *Evaluator) Cache() ConfigCache {
	return e.cache
}

func (e *Evaluator) Check(ctx context.Context, event *growthevent.GrowthEvent, in Input) (Decision, error) {
	cfg, err := e.cache.Get(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("load antifraud config: %w", err)
	}
	if cfg == nil || !cfg.Enabled {
		return allow(), nil
	}

	override := cfg.override(event.Business, event.EventKey)
	highValue := isHighValue(cfg, override, in)

	for _, dim := range dimensions {
		value, ok := dim.Value(event)
		if !ok {
			continue
		}

		limit, ok := resolveLimit(cfg, override, dim, highValue, in.CooldownSeconds)
		if !ok {
			continue
		}

		reason, err := e.checkDimension(ctx, event, dim, value, limit)
		if err != nil {
			return Decision{}, err
		}
		if reason != "" {
			zap.L().With(
				zap.Int64("event_id", event.ID),
				zap.String("business", event.Business),
				zap.String("event_key", event.EventKey),
			).Info("antifraud rejected event", zap.String("reason", reason), zap.Bool("high_value", highValue))
			rejections.WithLabelValues(reason).Inc()
			return deny(reason), nil
		}
	}

	return allow(), nil
}

func isHighValue(cfg *Config, o *Override, in Input) bool {
	points, experience := cfg.PointsThreshold, cfg.ExperienceThreshold
	if o != nil {
		if o.PointsThreshold != nil {
			points = *o.PointsThreshold
		}
		if o.ExperienceThreshold != nil {
			experience = *o.ExperienceThreshold
		}
	}
	return (points > 0 && in.Points >= points) || (experience > 0 && in.Experience >= experience)
}

// resolveLimit merges base, high value and override limits for dim. It
// returns false when the result carries no field at all.
func resolveLimit(cfg *Config, o *Override, dim growthevent.Dimension, highValue bool, defaultCooldown int64) (Limit, bool) {
	var (
		limits DimensionLimits
		over   *Limit
	)
	switch dim {
	case growthevent.DimensionUser:
		limits = cfg.User
		if o != nil {
			over = o.User
		}
	case growthevent.DimensionIP:
		limits = cfg.IP
		if o != nil {
			over = o.IP
		}
	case growthevent.DimensionDevice:
		limits = cfg.Device
		if o != nil {
			over = o.Device
		}
	}

	limit := Limit{}.merge(limits.Base)
	if highValue {
		limit = limit.merge(limits.HighValue)
	}
	limit = limit.merge(over)

	if limit.IsZero() {
		return limit, false
	}
	if limit.CooldownSeconds == nil && defaultCooldown > 0 {
		limit.CooldownSeconds = Int64(defaultCooldown)
	}
	return limit, true
}

func (e *Evaluator) checkDimension(ctx context.Context, event *growthevent.GrowthEvent, dim growthevent.Dimension, value any, limit Limit) (string, error) {
	q := growthevent.HistoryQuery{
		Business:  event.Business,
		EventKey:  event.EventKey,
		Dimension: dim,
		Value:     value,
		ExcludeID: event.ID,
	}
	at := event.OccurredAt

	if cd := limit.CooldownSeconds; cd != nil && *cd > 0 {
		cq := q
		cq.Since = at.Add(-time.Duration(*cd) * time.Second)
		cq.Until = at
		hit, err := e.history.ExistsHistory(ctx, cq)
		if err != nil {
			return "", err
		}
		if hit {
			return dim.String() + "_COOLDOWN", nil
		}
	}

	if dl := limit.DailyLimit; dl != nil && *dl > 0 {
		dq := q
		dq.Since, dq.SinceInclusive = util.StartOfDay(at, e.loc), true
		dq.Until, dq.UntilInclusive = at, true
		n, err := e.history.CountHistory(ctx, dq)
		if err != nil {
			return "", err
		}
		if n >= *dl {
			return dim.String() + "_DAILY_LIMIT", nil
		}
	}

	if tl := limit.TotalLimit; tl != nil && *tl > 0 {
		tq := q
		tq.Until, tq.UntilInclusive = at, true
		n, err := e.history.CountHistory(ctx, tq)
		if err != nil {
			return "", err
		}
		if n >= *tl {
			return dim.String() + "_TOTAL_LIMIT", nil
		}
	}

	return "", nil
}
