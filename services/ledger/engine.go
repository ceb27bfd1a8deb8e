package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"growth-pipeline/pkg/config"
	pkgdb "growth-pipeline/pkg/db"
	"growth-pipeline/pkg/errutil"
	"growth-pipeline/pkg/util"
	"growth-pipeline/services/growthevent"
	"growth-pipeline/services/member"
	"growth-pipeline/services/rule"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const DefaultTransactionTimeout = 10 * time.Second

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserBanned   = errors.New("user is banned")
)

type Input struct {
	Event *growthevent.GrowthEvent
	Rules rule.RuleSet
}

type Result struct {
	RuleRefs        []growthevent.RuleRef
	PointsDelta     int64
	ExperienceDelta int64
	AssignedBadges  []int64
	LevelID         *int64
	LevelChanged    bool
}

func (r *Result) Outcome() *growthevent.Outcome {
	return &growthevent.Outcome{
		RuleRefs:          r.RuleRefs,
		AppliedPoints:     r.PointsDelta,
		AppliedExperience: r.ExperienceDelta,
		AssignedBadges:    r.AssignedBadges,
	}
}

// Engine applies matched rules to a user's ledgers atomically.
type Engine struct {
	db      *gorm.DB
	node    *snowflake.Node
	users   member.Repository
	rules   rule.Repository
	loc     *time.Location
	timeout time.Duration
}

type EngineParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Users  member.Repository
	Rules  rule.Repository
	Config *config.Config `optional:"true"`
}

func NewEngine(p EngineParams) *Engine {
	e := &Engine{
		db:      p.DB,
		node:    p.Node,
		users:   p.Users,
		rules:   p.Rules,
		loc:     time.UTC,
		timeout: DefaultTransactionTimeout,
	}
	if p.Config != nil {
		e.loc = p.Config.Growth.Location()
		if p.Config.Growth.TransactionTimeout > 0 {
			e.timeout = p.Config.Growth.TransactionTimeout
		}
	}
	return e
}

func (e *Engine) Timeout() time.Duration {
	return e.timeout
}

// Apply runs ApplyTx in its own transaction bounded by the engine timeout.
func (e *Engine) Apply(ctx context.Context, in Input) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var res *Result
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := e.ApplyTx(ctx, tx, in)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ApplyTx applies every rule of in inside tx. The user row stays locked
// until tx ends. Any error must abort tx.
func (e *Engine) ApplyTx(ctx context.Context, tx *gorm.DB, in Input) (*Result, error) {
	ev := in.Event
	log := zap.L().With(
		zap.Int64("event_id", ev.ID),
		zap.String("business", ev.Business),
		zap.String("event_key", ev.EventKey),
		zap.Int64("user_id", ev.UserID),
	)

	tx = tx.WithContext(ctx)
	if err := pkgdb.StatementTimeout(tx, e.timeout); err != nil {
		return nil, fmt.Errorf("set statement timeout: %w", err)
	}

	users := e.users.WithTrx(tx)
	user, err := users.GetForUpdate(ctx, ev.UserID)
	if err != nil {
		return nil, fmt.Errorf("lock user %d: %w", ev.UserID, err)
	}
	if user == nil {
		return nil, errutil.NotFound("user not found", ErrUserNotFound)
	}
	if user.Banned() {
		return nil, errutil.UnprocessableEntity("user is banned", ErrUserBanned)
	}

	a := &applier{
		engine: e,
		tx:     tx,
		event:  ev,
		at:     ev.OccurredAt.UTC().Truncate(time.Microsecond),
		totals: map[Kind]int64{KindPoints: user.Points, KindExperience: user.Experience},
		heads:  map[Kind]*LedgerEntry{},
		res:    &Result{RuleRefs: []growthevent.RuleRef{}, AssignedBadges: []int64{}, LevelID: user.LevelID},
	}

	for _, r := range in.Rules.Points {
		if err := a.applyRule(KindPoints, r.ID, r.Points, limits{daily: r.DailyLimit, total: r.TotalLimit, cooldown: r.CooldownSeconds}); err != nil {
			return nil, err
		}
	}
	for _, r := range in.Rules.Experience {
		if err := a.applyRule(KindExperience, r.ID, r.Experience, limits{daily: r.DailyLimit, total: r.TotalLimit, cooldown: r.CooldownSeconds}); err != nil {
			return nil, err
		}
	}
	for _, r := range in.Rules.Badges {
		if err := a.applyBadge(r); err != nil {
			return nil, err
		}
	}

	res := a.res
	if res.ExperienceDelta != 0 {
		lvl, err := e.rules.WithTrx(tx).HighestLevel(ctx, a.totals[KindExperience])
		if err != nil {
			return nil, fmt.Errorf("resolve level: %w", err)
		}
		if lvl != nil && (user.LevelID == nil || *user.LevelID != lvl.ID) {
			id := lvl.ID
			res.LevelID = &id
			res.LevelChanged = true
		}
	}

	if res.PointsDelta != 0 || res.ExperienceDelta != 0 || res.LevelChanged {
		if err := users.Update(ctx, user.ID, map[string]any{
			"points":     a.totals[KindPoints],
			"experience": a.totals[KindExperience],
			"level_id":   res.LevelID,
			"updated_at": time.Now().UTC(),
		}); err != nil {
			return nil, fmt.Errorf("update user %d totals: %w", user.ID, err)
		}
	}

	log.Debug("rules applied",
		zap.Int64("points_delta", res.PointsDelta),
		zap.Int64("experience_delta", res.ExperienceDelta),
		zap.Int("badges", len(res.AssignedBadges)),
		zap.Bool("level_changed", res.LevelChanged),
	)
	return res, nil
}

type limits struct {
	daily    int64
	total    int64
	cooldown int64
}

// applier carries the in-transaction state of one Apply call.
type applier struct {
	engine *Engine
	tx     *gorm.DB
	event  *growthevent.GrowthEvent
	at     time.Time
	totals map[Kind]int64
	heads  map[Kind]*LedgerEntry
	res    *Result
}

func (a *applier) entries(kind Kind, ruleID int64) *gorm.DB {
	return a.tx.Table(kind.Table()).Where("user_id = ? AND rule_id = ?", a.event.UserID, ruleID)
}

// allowed reports whether a rule is within its per-user caps.
func (a *applier) allowed(kind Kind, ruleID int64, l limits) (bool, error) {
	if l.daily > 0 {
		start := util.StartOfDay(a.at, a.engine.loc)
		var n int64
		if err := a.entries(kind, ruleID).
			Where("occurred_at >= ? AND occurred_at < ?", start.UTC(), start.AddDate(0, 0, 1).UTC()).
			Count(&n).Error; err != nil {
			return false, fmt.Errorf("count daily %s entries: %w", kind, err)
		}
		if n >= l.daily {
			return false, nil
		}
	}

	if l.total > 0 {
		var n int64
		if err := a.entries(kind, ruleID).Count(&n).Error; err != nil {
			return false, fmt.Errorf("count total %s entries: %w", kind, err)
		}
		if n >= l.total {
			return false, nil
		}
	}

	if l.cooldown > 0 {
		since := a.at.Add(-time.Duration(l.cooldown) * time.Second)
		var ids []int64
		if err := a.entries(kind, ruleID).
			Where("occurred_at > ?", since).
			Limit(1).
			Pluck("id", &ids).Error; err != nil {
			return false, fmt.Errorf("probe %s cooldown: %w", kind, err)
		}
		if len(ids) > 0 {
			return false, nil
		}
	}

	return true, nil
}

func (a *applier) head(kind Kind) (*LedgerEntry, error) {
	if h, ok := a.heads[kind]; ok {
		return h, nil
	}

	var out []*LedgerEntry
	if err := a.tx.Table(kind.Table()).
		Where("user_id = ?", a.event.UserID).
		Order("sequence DESC").
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("read %s chain head: %w", kind, err)
	}

	var h *LedgerEntry
	if len(out) > 0 {
		h = out[0]
	}
	a.heads[kind] = h
	return h, nil
}

func (a *applier) applyRule(kind Kind, ruleID, delta int64, l limits) error {
	if delta == 0 {
		return nil
	}

	ok, err := a.allowed(kind, ruleID, l)
	if err != nil || !ok {
		return err
	}

	prev, err := a.head(kind)
	if err != nil {
		return err
	}

	entry := &LedgerEntry{
		ID:           a.engine.node.Generate().Int64(),
		UserID:       a.event.UserID,
		Sequence:     1,
		RuleID:       ruleID,
		EventID:      a.event.ID,
		EventKey:     a.event.EventKey,
		Delta:        delta,
		Before:       a.totals[kind],
		After:        a.totals[kind] + delta,
		OccurredAt:   a.at,
		PreviousHash: genesisHash,
	}
	if prev != nil {
		entry.Sequence = prev.Sequence + 1
		entry.PreviousHash = prev.Hash
	}
	entry.Hash = entry.GenerateHash()

	if err := a.tx.Table(kind.Table()).Create(entry).Error; err != nil {
		return fmt.Errorf("append %s entry: %w", kind, err)
	}

	a.heads[kind] = entry
	a.totals[kind] = entry.After

	refType := growthevent.RefTypePoint
	if kind == KindExperience {
		refType = growthevent.RefTypeExperience
		a.res.ExperienceDelta += delta
	} else {
		a.res.PointsDelta += delta
	}
	a.res.RuleRefs = append(a.res.RuleRefs, growthevent.RuleRef{Type: refType, RuleID: ruleID, Delta: delta})
	return nil
}

func (a *applier) applyBadge(r *rule.BadgeRule) error {
	var held int64
	if err := a.tx.Model(&BadgeAssignment{}).
		Where("user_id = ? AND badge_id = ?", a.event.UserID, r.BadgeID).
		Count(&held).Error; err != nil {
		return fmt.Errorf("check badge %d: %w", r.BadgeID, err)
	}

	ref := growthevent.RuleRef{Type: growthevent.RefTypeBadge, RuleID: r.ID, BadgeID: r.BadgeID}
	if held == 0 {
		if err := a.tx.Create(&BadgeAssignment{
			ID:      a.engine.node.Generate().Int64(),
			UserID:  a.event.UserID,
			BadgeID: r.BadgeID,
			RuleID:  r.ID,
			EventID: a.event.ID,
		}).Error; err != nil {
			return fmt.Errorf("assign badge %d: %w", r.BadgeID, err)
		}
		ref.Awarded = true
		a.res.AssignedBadges = append(a.res.AssignedBadges, r.BadgeID)
	}
	a.res.RuleRefs = append(a.res.RuleRefs, ref)
	return nil
}
