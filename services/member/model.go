package member

import "time"

type Status string

const (
	StatusActive Status = "active"
	StatusMuted  Status = "muted"
	StatusBanned Status = "banned"
)

// User is the growth view of an account: running totals and level.
type User struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	Points     int64     `gorm:"column:points;not null;default:0" json:"points"`
	Experience int64     `gorm:"column:experience;not null;default:0" json:"experience"`
	LevelID    *int64    `gorm:"column:level_id" json:"levelId,omitempty,string"`
	Status     Status    `gorm:"column:status;type:varchar(16);not null;default:active" json:"status"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (User) TableName() string { return "users" }

// Banned reports a permanent ban. Muted users still earn.
func (u *User) Banned() bool {
	return u.Status == StatusBanned
}
