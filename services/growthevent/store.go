package growthevent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"growth-pipeline/pkg/config"
	"growth-pipeline/pkg/db/option"
	"growth-pipeline/pkg/db/pagination"
	"growth-pipeline/pkg/errutil"
	"growth-pipeline/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const DefaultIdempotencyWindow = 300 * time.Second

var ErrNotPending = errors.New("growth event is not pending")

// Store is the audit and idempotency store of growth events.
type Store struct {
	db     *gorm.DB
	node   *snowflake.Node
	window time.Duration

	events repository.Repository[GrowthEvent]
}

type StoreParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config `optional:"true"`
}

func NewStore(p StoreParams) *Store {
	window := DefaultIdempotencyWindow
	if p.Config != nil && p.Config.Growth.IdempotencyWindow > 0 {
		window = p.Config.Growth.IdempotencyWindow
	}

	return &Store{
		db:     p.DB,
		node:   p.Node,
		window: window,
		events: repository.ProvideStore[GrowthEvent](p.DB),
	}
}

// WithTrx returns a copy of the store bound to tx.
func (s *Store) WithTrx(tx *gorm.DB) *Store {
	if tx == nil {
		return s
	}
	return &Store{
		db:     tx,
		node:   s.node,
		window: s.window,
		events: s.events.WithTrx(tx),
	}
}

func (s *Store) Window() time.Duration {
	return s.window
}

// normalizeTime keeps the precision every supported database can store.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// FindDuplicate returns the most recent record sharing the event identity
// whose occurrence lies within the idempotency window, or nil.
func (s *Store) FindDuplicate(ctx context.Context, in Input) (*GrowthEvent, error) {
	at := normalizeTime(in.OccurredAt)

	q := s.db.WithContext(ctx).Model(&GrowthEvent{}).
		Where("business = ? AND event_key = ? AND user_id = ?", in.Business, in.EventKey, in.UserID).
		Where("occurred_at BETWEEN ? AND ?", at.Add(-s.window), at.Add(s.window))

	if in.TargetID == nil {
		q = q.Where("target_id IS NULL")
	} else {
		q = q.Where("target_id = ?", *in.TargetID)
	}
	if in.ID != 0 {
		q = q.Where("id <> ?", in.ID)
	}

	var out []*GrowthEvent
	if err := q.Order("occurred_at DESC").Order("id DESC").Limit(1).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("find duplicate: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// CreateEvent persists a new audit record with the given initial status.
func (s *Store) CreateEvent(ctx context.Context, in Input, status Status) (*GrowthEvent, error) {
	if !status.Valid() {
		return nil, errutil.BadRequest("invalid growth event status", nil)
	}

	id := in.ID
	if id == 0 {
		id = s.node.Generate().Int64()
	}

	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	event := &GrowthEvent{
		ID:         id,
		Business:   in.Business,
		EventKey:   in.EventKey,
		UserID:     in.UserID,
		TargetID:   in.TargetID,
		IP:         in.IP,
		DeviceID:   in.DeviceID,
		OccurredAt: normalizeTime(occurredAt),
		Status:     status,
		Context:    parseContext(in.Context),

		RuleRefs:       datatypes.JSONSlice[RuleRef]{},
		AssignedBadges: datatypes.JSONSlice[int64]{},
	}

	if err := s.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("create growth event: %w", err)
	}
	return event, nil
}

// parseContext keeps valid JSON as is and stores anything else as a JSON
// string.
func parseContext(raw string) datatypes.JSON {
	if raw == "" {
		return nil
	}
	if json.Valid([]byte(raw)) {
		return datatypes.JSON(raw)
	}
	b, _ := json.Marshal(raw)
	return datatypes.JSON(b)
}

// UpdateStatus moves a PENDING record to a terminal status. The outcome is
// only written when non-nil.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status Status, outcome *Outcome) error {
	if !status.Terminal() || !status.Valid() {
		return errutil.BadRequest("status must be terminal", nil)
	}

	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if outcome != nil {
		updates["rule_refs"] = datatypes.NewJSONSlice(nonNil(outcome.RuleRefs))
		updates["applied_points"] = outcome.AppliedPoints
		updates["applied_experience"] = outcome.AppliedExperience
		updates["assigned_badges"] = datatypes.NewJSONSlice(nonNil(outcome.AssignedBadges))
	}

	res := s.db.WithContext(ctx).Model(&GrowthEvent{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update growth event status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errutil.Conflict("growth event already finalized", ErrNotPending)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Get returns nil, nil when the record does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*GrowthEvent, error) {
	return s.events.FindOne(ctx, &GrowthEvent{ID: id})
}

type Filter struct {
	pagination.Pagination
	Business     string    `form:"business"`
	EventKey     string    `form:"event_key"`
	UserID       int64     `form:"user_id"`
	Status       Status    `form:"status"`
	TargetID     string    `form:"target_id"`
	IP           string    `form:"ip"`
	DeviceID     string    `form:"device_id"`
	OccurredFrom time.Time `form:"occurred_from" time_format:"2006-01-02T15:04:05Z07:00"`
	OccurredTo   time.Time `form:"occurred_to" time_format:"2006-01-02T15:04:05Z07:00"`
}

func (f Filter) options() []option.QueryOption {
	var opts []option.QueryOption
	if f.TargetID != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "target_id", Operator: option.EQ, Value: f.TargetID}))
	}
	if f.IP != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "ip", Operator: option.EQ, Value: f.IP}))
	}
	if f.DeviceID != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "device_id", Operator: option.EQ, Value: f.DeviceID}))
	}
	if !f.OccurredFrom.IsZero() {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "occurred_at", Operator: option.GTE, Value: f.OccurredFrom.UTC()}))
	}
	if !f.OccurredTo.IsZero() {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "occurred_at", Operator: option.LTE, Value: f.OccurredTo.UTC()}))
	}
	return opts
}

// FindPage lists audit records, newest occurrence first.
func (s *Store) FindPage(ctx context.Context, f Filter) (*pagination.Page[GrowthEvent], error) {
	p := f.Pagination.Normalize()
	query := &GrowthEvent{
		Business: f.Business,
		EventKey: f.EventKey,
		UserID:   f.UserID,
		Status:   f.Status,
	}
	opts := f.options()

	total, err := s.events.Count(ctx, query, opts...)
	if err != nil {
		return nil, fmt.Errorf("count growth events: %w", err)
	}

	list, err := s.events.Find(ctx, query, append(opts,
		option.WithSortBy(option.QuerySortBy{SortBy: "occurred_at", OrderBy: "desc"}),
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "desc"}),
		option.WithPage(p.Page, p.PageSize),
	)...)
	if err != nil {
		return nil, fmt.Errorf("find growth events: %w", err)
	}

	return pagination.NewPage(list, total, p), nil
}

// FindStalePending returns PENDING records created before olderThan, oldest
// first.
func (s *Store) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*GrowthEvent, error) {
	return s.events.Find(ctx, &GrowthEvent{Status: StatusPending},
		option.ApplyOperator(option.Condition{Field: "created_at", Operator: option.LT, Value: olderThan.UTC()}),
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc"}),
		option.WithLimit(limit),
	)
}

// ArchiveBatch copies up to limit records with id > afterID that occurred
// before cutoff into the archive table and deletes the originals, all in one
// transaction. It returns the moved records in id order.
func (s *Store) ArchiveBatch(ctx context.Context, afterID int64, cutoff time.Time, limit int, archivedAt time.Time) ([]*GrowthEvent, error) {
	var batch []*GrowthEvent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch = nil
		if err := tx.Model(&GrowthEvent{}).
			Where("id > ? AND occurred_at < ?", afterID, cutoff.UTC()).
			Order("id ASC").
			Limit(limit).
			Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		archives := make([]*GrowthEventArchive, 0, len(batch))
		ids := make([]int64, 0, len(batch))
		for _, e := range batch {
			archives = append(archives, NewArchive(e, archivedAt.UTC()))
			ids = append(ids, e.ID)
		}

		if err := tx.CreateInBatches(archives, 100).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&GrowthEvent{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("archive batch after %d: %w", afterID, err)
	}
	return batch, nil
}
