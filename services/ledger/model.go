package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

const genesisHash = "GENESIS"

type Kind string

const (
	KindPoints     Kind = "points"
	KindExperience Kind = "experience"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindPoints, KindExperience:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown ledger kind %q", s)
}

func (k Kind) Table() string {
	if k == KindExperience {
		return "experience_ledger_entries"
	}
	return "point_ledger_entries"
}

// LedgerEntry is one append-only change of a user's running total. Entries
// of a user form a hash chain ordered by Sequence.
type LedgerEntry struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	UserID       int64     `gorm:"column:user_id;not null;uniqueIndex:,composite:user_seq,priority:1;index:,composite:user_rule,priority:1" json:"userId,string"`
	Sequence     int64     `gorm:"column:sequence;not null;uniqueIndex:,composite:user_seq,priority:2" json:"sequence"`
	RuleID       int64     `gorm:"column:rule_id;not null;index:,composite:user_rule,priority:2;uniqueIndex:,composite:event_rule,priority:2" json:"ruleId,string"`
	EventID      int64     `gorm:"column:event_id;not null;uniqueIndex:,composite:event_rule,priority:1" json:"eventId,string"`
	EventKey     string    `gorm:"column:event_key;type:varchar(128);not null" json:"eventKey"`
	Delta        int64     `gorm:"column:delta;not null" json:"delta"`
	Before       int64     `gorm:"column:before_total;not null" json:"before"`
	After        int64     `gorm:"column:after_total;not null" json:"after"`
	OccurredAt   time.Time `gorm:"column:occurred_at;not null;index:,composite:user_rule,priority:3" json:"occurredAt"`
	PreviousHash string    `gorm:"column:previous_hash;type:varchar(64);not null" json:"previousHash"`
	Hash         string    `gorm:"column:hash;type:varchar(64);not null" json:"hash"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"createdAt"`
}

type PointLedgerEntry struct {
	LedgerEntry
}

func (PointLedgerEntry) TableName() string { return KindPoints.Table() }

type ExperienceLedgerEntry struct {
	LedgerEntry
}

func (ExperienceLedgerEntry) TableName() string { return KindExperience.Table() }

func (m *LedgerEntry) HashFields() map[string]string {
	return map[string]string{
		"id":            fmt.Sprintf("%d", m.ID),
		"user_id":       fmt.Sprintf("%d", m.UserID),
		"sequence":      fmt.Sprintf("%d", m.Sequence),
		"rule_id":       fmt.Sprintf("%d", m.RuleID),
		"event_id":      fmt.Sprintf("%d", m.EventID),
		"event_key":     m.EventKey,
		"delta":         fmt.Sprintf("%d", m.Delta),
		"before":        fmt.Sprintf("%d", m.Before),
		"after":         fmt.Sprintf("%d", m.After),
		"occurred_at":   m.OccurredAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": m.PreviousHash,
	}
}

func (m *LedgerEntry) GenerateHash() string {
	fields := m.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// BadgeAssignment records that a user holds a badge. At most one per
// (user, badge).
type BadgeAssignment struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	UserID    int64     `gorm:"column:user_id;not null;uniqueIndex:idx_badge_assignments_user_badge,priority:1" json:"userId,string"`
	BadgeID   int64     `gorm:"column:badge_id;not null;uniqueIndex:idx_badge_assignments_user_badge,priority:2" json:"badgeId,string"`
	RuleID    int64     `gorm:"column:rule_id;not null" json:"ruleId,string"`
	EventID   int64     `gorm:"column:event_id;not null;index" json:"eventId,string"`
	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
}

func (BadgeAssignment) TableName() string { return "badge_assignments" }

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&PointLedgerEntry{}, &ExperienceLedgerEntry{}, &BadgeAssignment{}}
}
