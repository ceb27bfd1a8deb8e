package antifraud

import (
	"time"

	"gorm.io/datatypes"
)

// Limit is one rate-limit object. Nil fields are unset.
type Limit struct {
	CooldownSeconds *int64 `json:"cooldownSeconds,omitempty"`
	DailyLimit      *int64 `json:"dailyLimit,omitempty"`
	TotalLimit      *int64 `json:"totalLimit,omitempty"`
}

// IsZero reports whether no field is set, meaning "no limit".
func (l Limit) IsZero() bool {
	return l.CooldownSeconds == nil && l.DailyLimit == nil && l.TotalLimit == nil
}

// merge overlays the set fields of over onto l.
func (l Limit) merge(over *Limit) Limit {
	if over == nil {
		return l
	}
	if over.CooldownSeconds != nil {
		l.CooldownSeconds = over.CooldownSeconds
	}
	if over.DailyLimit != nil {
		l.DailyLimit = over.DailyLimit
	}
	if over.TotalLimit != nil {
		l.TotalLimit = over.TotalLimit
	}
	return l
}

type DimensionLimits struct {
	Base      *Limit `json:"base,omitempty"`
	HighValue *Limit `json:"highValue,omitempty"`
}

// Override replaces global settings for one (business, eventKey).
type Override struct {
	Business            string `json:"business"`
	EventKey            string `json:"eventKey"`
	PointsThreshold     *int64 `json:"pointsThreshold,omitempty"`
	ExperienceThreshold *int64 `json:"experienceThreshold,omitempty"`
	User                *Limit `json:"user,omitempty"`
	IP                  *Limit `json:"ip,omitempty"`
	Device              *Limit `json:"device,omitempty"`
}

// Config is the versioned antifraud configuration object.
type Config struct {
	Version             int64           `json:"version"`
	Enabled             bool            `json:"enabled"`
	PointsThreshold     int64           `json:"pointsThreshold"`
	ExperienceThreshold int64           `json:"experienceThreshold"`
	User                DimensionLimits `json:"user"`
	IP                  DimensionLimits `json:"ip"`
	Device              DimensionLimits `json:"device"`
	Overrides           []Override      `json:"overrides,omitempty"`
}

func (c *Config) override(business, eventKey string) *Override {
	for i := range c.Overrides {
		o := &c.Overrides[i]
		if o.Business == business && o.EventKey == eventKey {
			return o
		}
	}
	return nil
}

// SystemConfig is a row of the system configuration store.
type SystemConfig struct {
	Key       string         `gorm:"column:config_key;primaryKey;type:varchar(128)"`
	Value     datatypes.JSON `gorm:"column:value;not null"`
	Version   int64          `gorm:"column:version;not null;default:1"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (SystemConfig) TableName() string { return "system_configs" }

// Input carries the reward magnitudes derived from the matched rules.
type Input struct {
	CooldownSeconds int64
	Points          int64
	Experience      int64
}

type Decision struct {
	Allow  bool
	Reason string
}

func allow() Decision { return Decision{Allow: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

func Int64(v int64) *int64 { return &v }
