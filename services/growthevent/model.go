package growthevent

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending             Status = "PENDING"
	StatusProcessed           Status = "PROCESSED"
	StatusRejectedAntifraud   Status = "REJECTED_ANTIFRAUD"
	StatusIgnoredRuleNotFound Status = "IGNORED_RULE_NOT_FOUND"
	StatusIgnoredDuplicate    Status = "IGNORED_DUPLICATE"
	StatusFailed              Status = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s != StatusPending && s != ""
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessed, StatusRejectedAntifraud,
		StatusIgnoredRuleNotFound, StatusIgnoredDuplicate, StatusFailed:
		return true
	}
	return false
}

const (
	RefTypePoint      = "point"
	RefTypeExperience = "experience"
	RefTypeBadge      = "badge"
)

// RuleRef records one matched rule in an event's outcome.
type RuleRef struct {
	Type    string `json:"type"`
	RuleID  int64  `json:"ruleId,string"`
	Delta   int64  `json:"delta,omitempty"`
	BadgeID int64  `json:"badgeId,omitempty,string"`
	Awarded bool   `json:"awarded,omitempty"`
}

// Input is a growth event as published by producers.
type Input struct {
	ID         int64     `json:"id,string"`
	Business   string    `json:"business"`
	EventKey   string    `json:"eventKey"`
	UserID     int64     `json:"userId,string"`
	TargetID   *string   `json:"targetId,omitempty"`
	IP         *string   `json:"ip,omitempty"`
	DeviceID   *string   `json:"deviceId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	Context    string    `json:"context,omitempty"`
}

// Outcome is the result written with a PROCESSED status.
type Outcome struct {
	RuleRefs          []RuleRef
	AppliedPoints     int64
	AppliedExperience int64
	AssignedBadges    []int64
}

// GrowthEvent is the audit record of one accepted event.
type GrowthEvent struct {
	ID                int64                        `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	Business          string                       `gorm:"column:business;type:varchar(64);not null;index:idx_growth_events_identity,priority:1" json:"business"`
	EventKey          string                       `gorm:"column:event_key;type:varchar(128);not null;index:idx_growth_events_identity,priority:2" json:"eventKey"`
	UserID            int64                        `gorm:"column:user_id;not null;index:idx_growth_events_identity,priority:3" json:"userId,string"`
	TargetID          *string                      `gorm:"column:target_id;type:varchar(128)" json:"targetId,omitempty"`
	IP                *string                      `gorm:"column:ip;type:varchar(64);index" json:"ip,omitempty"`
	DeviceID          *string                      `gorm:"column:device_id;type:varchar(128);index" json:"deviceId,omitempty"`
	OccurredAt        time.Time                    `gorm:"column:occurred_at;not null;index" json:"occurredAt"`
	Status            Status                       `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	RuleRefs          datatypes.JSONSlice[RuleRef] `gorm:"column:rule_refs" json:"ruleRefs"`
	AppliedPoints     int64                        `gorm:"column:applied_points;not null;default:0" json:"appliedPoints"`
	AppliedExperience int64                        `gorm:"column:applied_experience;not null;default:0" json:"appliedExperience"`
	AssignedBadges    datatypes.JSONSlice[int64]   `gorm:"column:assigned_badges" json:"assignedBadges"`
	Context           datatypes.JSON               `gorm:"column:context" json:"context,omitempty"`
	CreatedAt         time.Time                    `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt         time.Time                    `gorm:"column:updated_at" json:"updatedAt"`
}

func (GrowthEvent) TableName() string { return "growth_events" }

// GrowthEventArchive is the cold copy of a GrowthEvent. Append-only.
type GrowthEventArchive struct {
	ID                int64                        `gorm:"column:id;primaryKey" json:"id,string"`
	SourceID          int64                        `gorm:"column:source_id;not null;uniqueIndex" json:"sourceId,string"`
	Business          string                       `gorm:"column:business;type:varchar(64);not null" json:"business"`
	EventKey          string                       `gorm:"column:event_key;type:varchar(128);not null" json:"eventKey"`
	UserID            int64                        `gorm:"column:user_id;not null;index" json:"userId,string"`
	TargetID          *string                      `gorm:"column:target_id;type:varchar(128)" json:"targetId,omitempty"`
	IP                *string                      `gorm:"column:ip;type:varchar(64)" json:"ip,omitempty"`
	DeviceID          *string                      `gorm:"column:device_id;type:varchar(128)" json:"deviceId,omitempty"`
	OccurredAt        time.Time                    `gorm:"column:occurred_at;not null;index" json:"occurredAt"`
	Status            Status                       `gorm:"column:status;type:varchar(32);not null" json:"status"`
	RuleRefs          datatypes.JSONSlice[RuleRef] `gorm:"column:rule_refs" json:"ruleRefs"`
	AppliedPoints     int64                        `gorm:"column:applied_points;not null;default:0" json:"appliedPoints"`
	AppliedExperience int64                        `gorm:"column:applied_experience;not null;default:0" json:"appliedExperience"`
	AssignedBadges    datatypes.JSONSlice[int64]   `gorm:"column:assigned_badges" json:"assignedBadges"`
	Context           datatypes.JSON               `gorm:"column:context" json:"context,omitempty"`
	CreatedAt         time.Time                    `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt         time.Time                    `gorm:"column:updated_at" json:"updatedAt"`
	ArchivedAt        time.Time                    `gorm:"column:archived_at;not null" json:"archivedAt"`
}

func (GrowthEventArchive) TableName() string { return "growth_event_archives" }

// NewArchive copies every field of e.
func NewArchive(e *GrowthEvent, archivedAt time.Time) *GrowthEventArchive {
	return &GrowthEventArchive{
		SourceID:          e.ID,
		Business:          e.Business,
		EventKey:          e.EventKey,
		UserID:            e.UserID,
		TargetID:          e.TargetID,
		IP:                e.IP,
		DeviceID:          e.DeviceID,
		OccurredAt:        e.OccurredAt,
		Status:            e.Status,
		RuleRefs:          e.RuleRefs,
		AppliedPoints:     e.AppliedPoints,
		AppliedExperience: e.AppliedExperience,
		AssignedBadges:    e.AssignedBadges,
		Context:           e.Context,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
		ArchivedAt:        archivedAt,
	}
}

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&GrowthEvent{}, &GrowthEventArchive{}}
}
