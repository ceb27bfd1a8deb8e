package growthevent

import (
	"context"
	"errors"
	"testing"
	"time"

	"growth-pipeline/pkg/config"
	"growth-pipeline/pkg/db/pagination"
	"growth-pipeline/pkg/errutil"
	"growth-pipeline/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var base = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.Config{}
	cfg.Growth.IdempotencyWindow = 300 * time.Second
	return NewStore(StoreParams{
		DB:     testutil.NewTestDB(t, Models()...),
		Node:   testutil.NewNode(t),
		Config: cfg,
	})
}

func strPtr(s string) *string { return &s }

func signIn(userID int64, at time.Time) Input {
	return Input{Business: "user", EventKey: "sign_in", UserID: userID, OccurredAt: at}
}

func TestFindDuplicateWithinWindow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.CreateEvent(ctx, signIn(1, base), StatusProcessed)
	require.NoError(t, err)

	dup, err := s.FindDuplicate(ctx, signIn(1, base.Add(299*time.Second)))
	require.NoError(t, err)
	require.NotNil(t, dup)
	require.Equal(t, first.ID, dup.ID)

	dup, err = s.FindDuplicate(ctx, signIn(1, base.Add(-200*time.Second)))
	require.NoError(t, err)
	require.NotNil(t, dup)

	dup, err = s.FindDuplicate(ctx, signIn(1, base.Add(301*time.Second)))
	require.NoError(t, err)
	require.Nil(t, dup)

	dup, err = s.FindDuplicate(ctx, signIn(2, base))
	require.NoError(t, err)
	require.Nil(t, dup)
}

func TestFindDuplicateTargetIdentity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	in := signIn(1, base)
	in.EventKey = "create_topic"
	in.TargetID = strPtr("topic-1")
	_, err := s.CreateEvent(ctx, in, StatusProcessed)
	require.NoError(t, err)

	other := in
	other.TargetID = strPtr("topic-2")
	dup, err := s.FindDuplicate(ctx, other)
	require.NoError(t, err)
	require.Nil(t, dup)

	noTarget := in
	noTarget.TargetID = nil
	dup, err = s.FindDuplicate(ctx, noTarget)
	require.NoError(t, err)
	require.Nil(t, dup)

	same := in
	same.OccurredAt = base.Add(10 * time.Second)
	dup, err = s.FindDuplicate(ctx, same)
	require.NoError(t, err)
	require.NotNil(t, dup)
}

func TestFindDuplicateReturnsMostRecent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateEvent(ctx, signIn(1, base), StatusProcessed)
	require.NoError(t, err)
	latest, err := s.CreateEvent(ctx, signIn(1, base.Add(time.Minute)), StatusIgnoredDuplicate)
	require.NoError(t, err)

	dup, err := s.FindDuplicate(ctx, signIn(1, base.Add(90*time.Second)))
	require.NoError(t, err)
	require.Equal(t, latest.ID, dup.ID)
}

func TestFindDuplicateExcludesSelf(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e, err := s.CreateEvent(ctx, signIn(1, base), StatusPending)
	require.NoError(t, err)

	in := signIn(1, base)
	in.ID = e.ID
	dup, err := s.FindDuplicate(ctx, in)
	require.NoError(t, err)
	require.Nil(t, dup)
}

func TestCreateEventContext(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	in := signIn(1, base)
	in.Context = `{"topic":"go"}`
	e, err := s.CreateEvent(ctx, in, StatusPending)
	require.NoError(t, err)
	require.JSONEq(t, `{"topic":"go"}`, string(e.Context))

	in.Context = "not json {"
	e, err = s.CreateEvent(ctx, in, StatusPending)
	require.NoError(t, err)
	require.JSONEq(t, `"not json {"`, string(e.Context))

	in.Context = ""
	e, err = s.CreateEvent(ctx, in, StatusPending)
	require.NoError(t, err)
	require.Empty(t, e.Context)

	stored, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
	require.True(t, stored.OccurredAt.Equal(base))
}

func TestUpdateStatusOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e, err := s.CreateEvent(ctx, signIn(1, base), StatusPending)
	require.NoError(t, err)

	outcome := &Outcome{
		RuleRefs:          []RuleRef{{Type: RefTypePoint, RuleID: 7, Delta: 5}},
		AppliedPoints:     5,
		AppliedExperience: 0,
		AssignedBadges:    []int64{9},
	}
	require.NoError(t, s.UpdateStatus(ctx, e.ID, StatusProcessed, outcome))

	stored, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, stored.Status)
	require.EqualValues(t, 5, stored.AppliedPoints)
	require.Equal(t, []RuleRef{{Type: RefTypePoint, RuleID: 7, Delta: 5}}, []RuleRef(stored.RuleRefs))
	require.Equal(t, []int64{9}, []int64(stored.AssignedBadges))

	err = s.UpdateStatus(ctx, e.ID, StatusFailed, nil)
	require.True(t, errors.Is(err, ErrNotPending))
	require.True(t, errutil.Is(err, errutil.StatusConflict))

	err = s.UpdateStatus(ctx, e.ID, StatusPending, nil)
	require.True(t, errutil.Is(err, errutil.StatusBadRequest))
}

func TestFindPageFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		in := signIn(1, base.Add(time.Duration(i)*time.Hour))
		in.IP = strPtr("10.0.0.1")
		_, err := s.CreateEvent(ctx, in, StatusProcessed)
		require.NoError(t, err)
	}
	_, err := s.CreateEvent(ctx, signIn(2, base), StatusRejectedAntifraud)
	require.NoError(t, err)

	page, err := s.FindPage(ctx, Filter{UserID: 1, Pagination: pagination.Pagination{Page: 1, PageSize: 2}})
	require.NoError(t, err)
	require.EqualValues(t, 5, page.Total)
	require.Len(t, page.List, 2)
	require.True(t, page.List[0].OccurredAt.After(page.List[1].OccurredAt))

	page, err = s.FindPage(ctx, Filter{Status: StatusRejectedAntifraud})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)
	require.Equal(t, pagination.DefaultPageSize, page.PageSize)

	page, err = s.FindPage(ctx, Filter{IP: "10.0.0.1", OccurredFrom: base.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.EqualValues(t, 3, page.Total)
}

func TestCountHistoryWindows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, st := range []Status{StatusProcessed, StatusPending, StatusRejectedAntifraud, StatusIgnoredDuplicate} {
		in := signIn(1, base)
		in.DeviceID = strPtr("dev-1")
		_, err := s.CreateEvent(ctx, in, st)
		require.NoError(t, err)
	}

	n, err := s.CountHistory(ctx, HistoryQuery{Business: "user", EventKey: "sign_in", Dimension: DimensionDevice, Value: "dev-1"})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = s.CountHistory(ctx, HistoryQuery{Business: "user", EventKey: "sign_in", Dimension: DimensionUser, Value: int64(1), Since: base})
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = s.CountHistory(ctx, HistoryQuery{Business: "user", EventKey: "sign_in", Dimension: DimensionUser, Value: int64(1), Since: base, SinceInclusive: true})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	ok, err := s.ExistsHistory(ctx, HistoryQuery{Business: "user", EventKey: "sign_in", Dimension: DimensionIP, Value: "10.0.0.1"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestArchiveBatchMovesRecords(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old, err := s.CreateEvent(ctx, signIn(1, base.AddDate(0, 0, -200)), StatusProcessed)
	require.NoError(t, err)
	_, err = s.CreateEvent(ctx, signIn(1, base), StatusProcessed)
	require.NoError(t, err)

	moved, err := s.ArchiveBatch(ctx, 0, base.AddDate(0, 0, -180), 10, base)
	require.NoError(t, err)
	require.Len(t, moved, 1)
	require.Equal(t, old.ID, moved[0].ID)

	gone, err := s.Get(ctx, old.ID)
	require.NoError(t, err)
	require.Nil(t, gone)

	var archived GrowthEventArchive
	require.NoError(t, s.db.Where("source_id = ?", old.ID).First(&archived).Error)
	require.Equal(t, StatusProcessed, archived.Status)
	require.True(t, archived.OccurredAt.Equal(old.OccurredAt))

	moved, err = s.ArchiveBatch(ctx, old.ID, base.AddDate(0, 0, -180), 10, base)
	require.NoError(t, err)
	require.Empty(t, moved)
}
