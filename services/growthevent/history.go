package growthevent

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Dimension is an attribute of an event that antifraud limits are keyed on.
type Dimension int

const (
	DimensionUser Dimension = iota + 1
	DimensionIP
	DimensionDevice
)

func (d Dimension) String() string {
	switch d {
	case DimensionUser:
		return "USER"
	case DimensionIP:
		return "IP"
	case DimensionDevice:
		return "DEVICE"
	default:
		return "UNKNOWN"
	}
}

func (d Dimension) column() (string, error) {
	switch d {
	case DimensionUser:
		return "user_id", nil
	case DimensionIP:
		return "ip", nil
	case DimensionDevice:
		return "device_id", nil
	default:
		return "", fmt.Errorf("unknown dimension %d", d)
	}
}

// Value returns the dimension value of e, or false when e does not carry it.
func (d Dimension) Value(e *GrowthEvent) (any, bool) {
	switch d {
	case DimensionUser:
		return e.UserID, true
	case DimensionIP:
		if e.IP == nil || *e.IP == "" {
			return nil, false
		}
		return *e.IP, true
	case DimensionDevice:
		if e.DeviceID == nil || *e.DeviceID == "" {
			return nil, false
		}
		return *e.DeviceID, true
	default:
		return nil, false
	}
}

// HistoryQuery selects prior PENDING or PROCESSED records of the same event
// kind sharing a dimension value. Zero bounds are open.
type HistoryQuery struct {
	Business       string
	EventKey       string
	Dimension      Dimension
	Value          any
	ExcludeID      int64
	Since          time.Time
	SinceInclusive bool
	Until          time.Time
	UntilInclusive bool
}

func (s *Store) historyScope(ctx context.Context, q HistoryQuery) (*gorm.DB, error) {
	col, err := q.Dimension.column()
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx).Model(&GrowthEvent{}).
		Where("business = ? AND event_key = ?", q.Business, q.EventKey).
		Where(col+" = ?", q.Value).
		Where("status IN ?", []Status{StatusPending, StatusProcessed})

	if q.ExcludeID != 0 {
		db = db.Where("id <> ?", q.ExcludeID)
	}
	if !q.Since.IsZero() {
		op := ">"
		if q.SinceInclusive {
			op = ">="
		}
		db = db.Where("occurred_at "+op+" ?", normalizeTime(q.Since))
	}
	if !q.Until.IsZero() {
		op := "<"
		if q.UntilInclusive {
			op = "<="
		}
		db = db.Where("occurred_at "+op+" ?", normalizeTime(q.Until))
	}
	return db, nil
}

func (s *Store) CountHistory(ctx context.Context, q HistoryQuery) (int64, error) {
	db, err := s.historyScope(ctx, q)
	if err != nil {
		return 0, err
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return 0, fmt.Errorf("count %s history: %w", q.Dimension, err)
	}
	return total, nil
}

func (s *Store) ExistsHistory(ctx context.Context, q HistoryQuery) (bool, error) {
	db, err := s.historyScope(ctx, q)
	if err != nil {
		return false, err
	}

	var ids []int64
	if err := db.Limit(1).Pluck("id", &ids).Error; err != nil {
		return false, fmt.Errorf("probe %s history: %w", q.Dimension, err)
	}
	return len(ids) > 0, nil
}
