package rule

import "time"

// PointRule grants points for a (business, eventKey).
type PointRule struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	Business        string    `gorm:"column:business;type:varchar(64);not null;index:idx_point_rules_event,priority:1" json:"business"`
	EventKey        string    `gorm:"column:event_key;type:varchar(128);not null;index:idx_point_rules_event,priority:2" json:"eventKey"`
	Name            string    `gorm:"column:name" json:"name"`
	Points          int64     `gorm:"column:points;not null" json:"points"`
	DailyLimit      int64     `gorm:"column:daily_limit;not null;default:0" json:"dailyLimit"`
	TotalLimit      int64     `gorm:"column:total_limit;not null;default:0" json:"totalLimit"`
	CooldownSeconds int64     `gorm:"column:cooldown_seconds;not null;default:0" json:"cooldownSeconds"`
	Enabled         bool      `gorm:"column:enabled;not null" json:"enabled"`
	Expression      string    `gorm:"column:expression" json:"expression,omitempty"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (PointRule) TableName() string { return "point_rules" }

// ExperienceRule grants experience for a (business, eventKey).
type ExperienceRule struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	Business        string    `gorm:"column:business;type:varchar(64);not null;index:idx_experience_rules_event,priority:1" json:"business"`
	EventKey        string    `gorm:"column:event_key;type:varchar(128);not null;index:idx_experience_rules_event,priority:2" json:"eventKey"`
	Name            string    `gorm:"column:name" json:"name"`
	Experience      int64     `gorm:"column:experience;not null" json:"experience"`
	DailyLimit      int64     `gorm:"column:daily_limit;not null;default:0" json:"dailyLimit"`
	TotalLimit      int64     `gorm:"column:total_limit;not null;default:0" json:"totalLimit"`
	CooldownSeconds int64     `gorm:"column:cooldown_seconds;not null;default:0" json:"cooldownSeconds"`
	Enabled         bool      `gorm:"column:enabled;not null" json:"enabled"`
	Expression      string    `gorm:"column:expression" json:"expression,omitempty"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (ExperienceRule) TableName() string { return "experience_rules" }

// BadgeRule awards a badge once per user.
type BadgeRule struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	Business   string    `gorm:"column:business;type:varchar(64);not null;index:idx_badge_rules_event,priority:1" json:"business"`
	EventKey   string    `gorm:"column:event_key;type:varchar(128);not null;index:idx_badge_rules_event,priority:2" json:"eventKey"`
	Name       string    `gorm:"column:name" json:"name"`
	BadgeID    int64     `gorm:"column:badge_id;not null" json:"badgeId,string"`
	Enabled    bool      `gorm:"column:enabled;not null" json:"enabled"`
	Expression string    `gorm:"column:expression" json:"expression,omitempty"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (BadgeRule) TableName() string { return "badge_rules" }

type LevelRule struct {
	ID                 int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	Name               string    `gorm:"column:name" json:"name"`
	RequiredExperience int64     `gorm:"column:required_experience;not null;index" json:"requiredExperience"`
	Enabled            bool      `gorm:"column:enabled;not null" json:"enabled"`
	CreatedAt          time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt          time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (LevelRule) TableName() string { return "level_rules" }

// RuleSet is every enabled rule matching one event.
type RuleSet struct {
	Points     []*PointRule
	Experience []*ExperienceRule
	Badges     []*BadgeRule
}

func (s RuleSet) Empty() bool {
	return len(s.Points) == 0 && len(s.Experience) == 0 && len(s.Badges) == 0
}

// MaxCooldown is the largest cooldown across point and experience rules.
func (s RuleSet) MaxCooldown() int64 {
	var out int64
	for _, r := range s.Points {
		out = max(out, r.CooldownSeconds)
	}
	for _, r := range s.Experience {
		out = max(out, r.CooldownSeconds)
	}
	return out
}

func (s RuleSet) MaxPoints() int64 {
	var out int64
	for _, r := range s.Points {
		out = max(out, r.Points)
	}
	return out
}

func (s RuleSet) MaxExperience() int64 {
	var out int64
	for _, r := range s.Experience {
		out = max(out, r.Experience)
	}
	return out
}

// Models lists the tables read by this package.
func Models() []any {
	return []any{&PointRule{}, &ExperienceRule{}, &BadgeRule{}, &LevelRule{}}
}
