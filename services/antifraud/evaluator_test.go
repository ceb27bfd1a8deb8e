package antifraud

import (
	"context"
	"testing"
	"time"

	"growth-pipeline/services/growthevent"
	"growth-pipeline/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type staticCache struct{ cfg *Config }

func (c staticCache) Get(context.Context) (*Config, error) { return c.cfg, nil }
func (c staticCache) Invalidate()                          {}

type harness struct {
	store *growthevent.Store
	eval  *Evaluator
}

func newHarness(t *testing.T, cfg *Config) *harness {
	t.Helper()
	store := growthevent.NewStore(growthevent.StoreParams{
		DB:   testutil.NewTestDB(t, growthevent.Models()...),
		Node: testutil.NewNode(t),
	})
	return &harness{store: store, eval: NewEvaluator(staticCache{cfg: cfg}, store, time.UTC)}
}

func strPtr(s string) *string { return &s }

// record stores an accepted event and returns it as the candidate would see
// it.
func (h *harness) record(t *testing.T, at time.Time, mutate ...func(*growthevent.Input)) *growthevent.GrowthEvent {
	t.Helper()
	in := growthevent.Input{Business: "topic", EventKey: "create", UserID: 1, OccurredAt: at}
	for _, m := range mutate {
		m(&in)
	}
	e, err := h.store.CreateEvent(context.Background(), in, growthevent.StatusPending)
	require.NoError(t, err)
	return e
}

func (h *harness) check(t *testing.T, e *growthevent.GrowthEvent, in Input) Decision {
	t.Helper()
	d, err := h.eval.Check(context.Background(), e, in)
	require.NoError(t, err)
	return d
}

func TestCheckAllowsWhenDisabledOrMissing(t *testing.T) {
	limits := DimensionLimits{Base: &Limit{TotalLimit: Int64(1)}}

	h := newHarness(t, &Config{Enabled: false, User: limits})
	h.record(t, base)
	require.True(t, h.check(t, h.record(t, base.Add(time.Hour)), Input{}).Allow)

	h.eval = NewEvaluator(staticCache{}, h.store, time.UTC)
	require.True(t, h.check(t, h.record(t, base.Add(2*time.Hour)), Input{}).Allow)
}

func TestCheckOverridePrecedence(t *testing.T) {
	h := newHarness(t, &Config{
		Enabled: true,
		User:    DimensionLimits{Base: &Limit{DailyLimit: Int64(5)}},
		Overrides: []Override{{
			Business: "topic",
			EventKey: "create",
			User:     &Limit{DailyLimit: Int64(2)},
		}},
	})

	for i := 0; i < 2; i++ {
		e := h.record(t, base.Add(time.Duration(i)*time.Hour))
		require.True(t, h.check(t, e, Input{}).Allow)
	}

	third := h.record(t, base.Add(3*time.Hour))
	d := h.check(t, third, Input{})
	require.False(t, d.Allow)
	require.Equal(t, "USER_DAILY_LIMIT", d.Reason)
}

func TestCheckOverrideOnlyMatchesItsEvent(t *testing.T) {
	h := newHarness(t, &Config{
		Enabled: true,
		User:    DimensionLimits{Base: &Limit{DailyLimit: Int64(5)}},
		Overrides: []Override{{
			Business: "topic",
			EventKey: "reply",
			User:     &Limit{DailyLimit: Int64(1)},
		}},
	})

	h.record(t, base)
	require.True(t, h.check(t, h.record(t, base.Add(time.Hour)), Input{}).Allow)
}

func TestCheckDailyLimitResetsNextDay(t *testing.T) {
	h := newHarness(t, &Config{
		Enabled: true,
		User:    DimensionLimits{Base: &Limit{DailyLimit: Int64(1)}},
	})

	h.record(t, base)
	require.False(t, h.check(t, h.record(t, base.Add(time.Hour)), Input{}).Allow)
	require.True(t, h.check(t, h.record(t, base.Add(24*time.Hour)), Input{}).Allow)
}

func TestCheckDefaultCooldownFillsConfiguredLimit(t *testing.T) {
	h := newHarness(t, &Config{
		Enabled: true,
		User:    DimensionLimits{Base: &Limit{DailyLimit: Int64(100)}},
	})

	h.record(t, base)

	d := h.check(t, h.record(t, base.Add(30*time.Second)), Input{CooldownSeconds: 60})
	require.False(t, d.Allow)
	require.Equal(t, "USER_COOLDOWN", d.Reason)

	d = h.check(t, h.record(t, base.Add(5*time.Minute)), Input{CooldownSeconds: 60})
	require.True(t, d.Allow)
}

func TestCheckEmptyLimitIgnoresDefaultCooldown(t *testing.T) {
	h := newHarness(t, &Config{Enabled: true})

	h.record(t, base)
	require.True(t, h.check(t, h.record(t, base.Add(time.Second)), Input{CooldownSeconds: 60}).Allow)
}

func TestCheckHighValueLimits(t *testing.T) {
	h := newHarness(t, &Config{
		Enabled:         true,
		PointsThreshold: 100,
		User: DimensionLimits{
			Base:      &Limit{DailyLimit: Int64(10)},
			HighValue: &Limit{DailyLimit: Int64(1)},
		},
	})

	h.record(t, base)

	d := h.check(t, h.record(t, base.Add(time.Hour)), Input{Points: 150})
	require.False(t, d.Allow)
	require.Equal(t, "USER_DAILY_LIMIT", d.Reason)

	require.True(t, h.check(t, h.record(t, base.Add(2*time.Hour)), Input{Points: 50}).Allow)
}

func TestCheckOverrideThresholds(t *testing.T) {
	cfg := &Config{
		Enabled:             true,
		ExperienceThreshold: 1000,
		User: DimensionLimits{
			HighValue: &Limit{TotalLimit: Int64(1)},
		},
		Overrides: []Override{{Business: "topic", EventKey: "create", ExperienceThreshold: Int64(10)}},
	}
	h := newHarness(t, cfg)

	h.record(t, base)
	d := h.check(t, h.record(t, base.Add(time.Hour)), Input{Experience: 20})
	require.False(t, d.Allow)
	require.Equal(t, "USER_TOTAL_LIMIT", d.Reason)
}

func TestCheckOptionalDimensions(t *testing.T) {
	h := newHarness(t, &Config{
		Enabled: true,
		IP:      DimensionLimits{Base: &Limit{TotalLimit: Int64(1)}},
		Device:  DimensionLimits{Base: &Limit{TotalLimit: Int64(1)}},
	})
	withIP := func(in *growthevent.Input) { in.IP = strPtr("10.0.0.1") }

	h.record(t, base, withIP, func(in *growthevent.Input) { in.UserID = 2 })

	require.True(t, h.check(t, h.record(t, base.Add(time.Hour)), Input{}).Allow)

	d := h.check(t, h.record(t, base.Add(2*time.Hour), withIP), Input{})
	require.False(t, d.Allow)
	require.Equal(t, "IP_TOTAL_LIMIT", d.Reason)
}

func TestCheckIgnoresRejectedHistory(t *testing.T) {
	h := newHarness(t, &Config{
		Enabled: true,
		User:    DimensionLimits{Base: &Limit{TotalLimit: Int64(1)}},
	})

	rejected := h.record(t, base)
	require.NoError(t, h.store.UpdateStatus(context.Background(), rejected.ID, growthevent.StatusRejectedAntifraud, nil))

	require.True(t, h.check(t, h.record(t, base.Add(time.Hour)), Input{}).Allow)
}

func TestResolveLimitMergeOrder(t *testing.T) {
	cfg := &Config{
		User: DimensionLimits{
			Base:      &Limit{CooldownSeconds: Int64(10), DailyLimit: Int64(10), TotalLimit: Int64(100)},
			HighValue: &Limit{DailyLimit: Int64(3)},
		},
	}
	o := &Override{User: &Limit{TotalLimit: Int64(7)}}

	limit, ok := resolveLimit(cfg, o, growthevent.DimensionUser, true, 60)
	require.True(t, ok)
	require.EqualValues(t, 10, *limit.CooldownSeconds)
	require.EqualValues(t, 3, *limit.DailyLimit)
	require.EqualValues(t, 7, *limit.TotalLimit)

	limit, ok = resolveLimit(cfg, o, growthevent.DimensionUser, false, 60)
	require.True(t, ok)
	require.EqualValues(t, 10, *limit.DailyLimit)

	_, ok = resolveLimit(cfg, nil, growthevent.DimensionDevice, true, 60)
	require.False(t, ok)
}
