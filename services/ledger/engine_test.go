package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"growth-pipeline/pkg/config"
	"growth-pipeline/pkg/errutil"
	"growth-pipeline/services/growthevent"
	"growth-pipeline/services/member"
	"growth-pipeline/services/rule"
	"growth-pipeline/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	db     *gorm.DB
	node   *snowflake.Node
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	models := append(Models(), rule.Models()...)
	models = append(models, &member.User{})
	db := testutil.NewTestDB(t, models...)
	node := testutil.NewNode(t)

	cfg := &config.Config{}
	cfg.Growth.Timezone = "UTC"
	cfg.Growth.TransactionTimeout = 5 * time.Second

	return &fixture{
		db:   db,
		node: node,
		engine: NewEngine(EngineParams{
			DB:     db,
			Node:   node,
			Users:  member.NewRepository(db),
			Rules:  rule.NewRepository(db),
			Config: cfg,
		}),
	}
}

func (f *fixture) user(t *testing.T, u *member.User) {
	t.Helper()
	require.NoError(t, f.db.Create(u).Error)
}

func (f *fixture) event(userID int64, at time.Time) *growthevent.GrowthEvent {
	return &growthevent.GrowthEvent{
		ID:         f.node.Generate().Int64(),
		Business:   "topic",
		EventKey:   "create",
		UserID:     userID,
		OccurredAt: at,
		Status:     growthevent.StatusPending,
	}
}

func (f *fixture) loadUser(t *testing.T, id int64) *member.User {
	t.Helper()
	var u member.User
	require.NoError(t, f.db.First(&u, id).Error)
	return &u
}

func (f *fixture) count(t *testing.T, kind Kind, userID int64) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Table(kind.Table()).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func TestApplyCooldown(t *testing.T) {
	f := newFixture(t)
	f.user(t, &member.User{ID: 1})
	rules := rule.RuleSet{Points: []*rule.PointRule{{ID: 10, Points: 5, CooldownSeconds: 60}}}
	ctx := context.Background()

	res, err := f.engine.Apply(ctx, Input{Event: f.event(1, base), Rules: rules})
	require.NoError(t, err)
	require.EqualValues(t, 5, res.PointsDelta)

	res, err = f.engine.Apply(ctx, Input{Event: f.event(1, base.Add(30*time.Second)), Rules: rules})
	require.NoError(t, err)
	require.Zero(t, res.PointsDelta)
	require.Empty(t, res.RuleRefs)

	res, err = f.engine.Apply(ctx, Input{Event: f.event(1, base.Add(70*time.Second)), Rules: rules})
	require.NoError(t, err)
	require.EqualValues(t, 5, res.PointsDelta)

	require.EqualValues(t, 2, f.count(t, KindPoints, 1))
	require.EqualValues(t, 10, f.loadUser(t, 1).Points)
}

func TestApplyDailyCap(t *testing.T) {
	f := newFixture(t)
	f.user(t, &member.User{ID: 1})
	rules := rule.RuleSet{Experience: []*rule.ExperienceRule{
		{ID: 20, Experience: 2, DailyLimit: 3},
		{ID: 21, Experience: 1},
	}}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := f.engine.Apply(ctx, Input{Event: f.event(1, base.Add(time.Duration(i)*time.Minute)), Rules: rules})
		require.NoError(t, err)
		if i >= 3 {
			require.EqualValues(t, 1, res.ExperienceDelta)
			require.Len(t, res.RuleRefs, 1)
			require.EqualValues(t, 21, res.RuleRefs[0].RuleID)
		}
	}
	require.EqualValues(t, 8, f.count(t, KindExperience, 1))
	require.EqualValues(t, 11, f.loadUser(t, 1).Experience)

	res, err := f.engine.Apply(ctx, Input{Event: f.event(1, base.Add(24*time.Hour)), Rules: rules})
	require.NoError(t, err)
	require.EqualValues(t, 3, res.ExperienceDelta)
	require.EqualValues(t, 14, f.loadUser(t, 1).Experience)
}

func TestApplyTotalLimitAndZeroDelta(t *testing.T) {
	f := newFixture(t)
	f.user(t, &member.User{ID: 1})
	rules := rule.RuleSet{Points: []*rule.PointRule{
		{ID: 10, Points: 7, TotalLimit: 1},
		{ID: 11, Points: 0},
	}}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.engine.Apply(ctx, Input{Event: f.event(1, base.AddDate(0, 0, i)), Rules: rules})
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, f.count(t, KindPoints, 1))
	require.EqualValues(t, 7, f.loadUser(t, 1).Points)
}

func TestApplyMultipleRulesRunningTotals(t *testing.T) {
	f := newFixture(t)
	f.user(t, &member.User{ID: 1, Points: 100})
	rules := rule.RuleSet{Points: []*rule.PointRule{
		{ID: 10, Points: 5},
		{ID: 11, Points: -2},
	}}

	res, err := f.engine.Apply(context.Background(), Input{Event: f.event(1, base), Rules: rules})
	require.NoError(t, err)
	require.EqualValues(t, 3, res.PointsDelta)
	require.Equal(t, []growthevent.RuleRef{
		{Type: growthevent.RefTypePoint, RuleID: 10, Delta: 5},
		{Type: growthevent.RefTypePoint, RuleID: 11, Delta: -2},
	}, res.RuleRefs)

	var entries []LedgerEntry
	require.NoError(t, f.db.Table(KindPoints.Table()).Order("sequence").Find(&entries).Error)
	require.Len(t, entries, 2)
	require.EqualValues(t, 100, entries[0].Before)
	require.EqualValues(t, 105, entries[0].After)
	require.EqualValues(t, 105, entries[1].Before)
	require.EqualValues(t, 103, entries[1].After)
	require.Equal(t, genesisHash, entries[0].PreviousHash)
	require.Equal(t, entries[0].Hash, entries[1].PreviousHash)

	require.EqualValues(t, 103, f.loadUser(t, 1).Points)
}

func TestApplyBadgeIdempotent(t *testing.T) {
	f := newFixture(t)
	f.user(t, &member.User{ID: 1})
	rules := rule.RuleSet{Badges: []*rule.BadgeRule{{ID: 30, BadgeID: 300}}}
	ctx := context.Background()

	res, err := f.engine.Apply(ctx, Input{Event: f.event(1, base), Rules: rules})
	require.NoError(t, err)
	require.Equal(t, []int64{300}, res.AssignedBadges)
	require.True(t, res.RuleRefs[0].Awarded)

	res, err = f.engine.Apply(ctx, Input{Event: f.event(1, base.Add(time.Hour)), Rules: rules})
	require.NoError(t, err)
	require.Empty(t, res.AssignedBadges)
	require.Equal(t, []growthevent.RuleRef{{Type: growthevent.RefTypeBadge, RuleID: 30, BadgeID: 300}}, res.RuleRefs)

	var n int64
	require.NoError(t, f.db.Model(&BadgeAssignment{}).Where("user_id = ?", 1).Count(&n).Error)
	require.EqualValues(t, 1, n)
}

func TestApplyLevelRecalculation(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create([]*rule.LevelRule{
		{ID: 1, Name: "novice", RequiredExperience: 0, Enabled: true},
		{ID: 2, Name: "regular", RequiredExperience: 100, Enabled: true},
		{ID: 3, Name: "veteran", RequiredExperience: 500, Enabled: true},
	}).Error)
	level := int64(1)
	f.user(t, &member.User{ID: 1, Experience: 90, LevelID: &level})
	rules := rule.RuleSet{Experience: []*rule.ExperienceRule{{ID: 20, Experience: 20}}}
	ctx := context.Background()

	res, err := f.engine.Apply(ctx, Input{Event: f.event(1, base), Rules: rules})
	require.NoError(t, err)
	require.True(t, res.LevelChanged)
	require.EqualValues(t, 2, *res.LevelID)
	require.EqualValues(t, 2, *f.loadUser(t, 1).LevelID)

	res, err = f.engine.Apply(ctx, Input{Event: f.event(1, base.Add(time.Hour)), Rules: rules})
	require.NoError(t, err)
	require.False(t, res.LevelChanged)
	u := f.loadUser(t, 1)
	require.EqualValues(t, 2, *u.LevelID)
	require.EqualValues(t, 130, u.Experience)
}

func TestApplyRejectsMissingAndBannedUsers(t *testing.T) {
	f := newFixture(t)
	f.user(t, &member.User{ID: 2, Status: member.StatusBanned})
	rules := rule.RuleSet{
		Points: []*rule.PointRule{{ID: 10, Points: 5}},
		Badges: []*rule.BadgeRule{{ID: 30, BadgeID: 300}},
	}
	ctx := context.Background()

	_, err := f.engine.Apply(ctx, Input{Event: f.event(1, base), Rules: rules})
	require.ErrorIs(t, err, ErrUserNotFound)
	require.True(t, errutil.Is(err, errutil.StatusNotFound))

	_, err = f.engine.Apply(ctx, Input{Event: f.event(2, base), Rules: rules})
	require.ErrorIs(t, err, ErrUserBanned)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))

	require.Zero(t, f.count(t, KindPoints, 2))
	var n int64
	require.NoError(t, f.db.Model(&BadgeAssignment{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestApplyTxRollsBackWithCaller(t *testing.T) {
	f := newFixture(t)
	f.user(t, &member.User{ID: 1})
	rules := rule.RuleSet{
		Points:     []*rule.PointRule{{ID: 10, Points: 5}},
		Experience: []*rule.ExperienceRule{{ID: 20, Experience: 9}},
		Badges:     []*rule.BadgeRule{{ID: 30, BadgeID: 300}},
	}
	errLater := errors.New("status write failed")

	err := f.db.Transaction(func(tx *gorm.DB) error {
		res, err := f.engine.ApplyTx(context.Background(), tx, Input{Event: f.event(1, base), Rules: rules})
		require.NoError(t, err)
		require.Len(t, res.RuleRefs, 3)
		return errLater
	})
	require.ErrorIs(t, err, errLater)

	require.Zero(t, f.count(t, KindPoints, 1))
	require.Zero(t, f.count(t, KindExperience, 1))
	u := f.loadUser(t, 1)
	require.Zero(t, u.Points)
	require.Zero(t, u.Experience)
}

func TestVerifyChain(t *testing.T) {
	f := newFixture(t)
	f.user(t, &member.User{ID: 1})
	rules := rule.RuleSet{Points: []*rule.PointRule{{ID: 10, Points: 5}}}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.engine.Apply(ctx, Input{Event: f.event(1, base.Add(time.Duration(i)*time.Hour)), Rules: rules})
		require.NoError(t, err)
	}

	status, err := f.engine.VerifyChain(ctx, KindPoints, 1)
	require.NoError(t, err)
	require.True(t, status.Valid)
	require.Equal(t, 3, status.Entries)
	require.EqualValues(t, 15, status.Total)

	require.NoError(t, f.db.Table(KindPoints.Table()).Where("user_id = ? AND sequence = ?", 1, 2).Update("delta", 50).Error)

	status, err = f.engine.VerifyChain(ctx, KindPoints, 1)
	require.NoError(t, err)
	require.False(t, status.Valid)
	require.NotNil(t, status.BrokenAt)

	empty, err := f.engine.VerifyChain(ctx, KindExperience, 1)
	require.NoError(t, err)
	require.True(t, empty.Valid)
	require.Zero(t, empty.Entries)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("experience")
	require.NoError(t, err)
	require.Equal(t, "experience_ledger_entries", k.Table())

	_, err = ParseKind("coins")
	require.Error(t, err)
}
