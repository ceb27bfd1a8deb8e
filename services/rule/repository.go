package rule

import (
	"context"

	"growth-pipeline/pkg/db/option"
	"growth-pipeline/pkg/repository"

	"gorm.io/gorm"
)

// Repository reads enabled rules. Rule management lives elsewhere.
type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	FindPointRules(ctx context.Context, business, eventKey string) ([]*PointRule, error)
	FindExperienceRules(ctx context.Context, business, eventKey string) ([]*ExperienceRule, error)
	FindBadgeRules(ctx context.Context, business, eventKey string) ([]*BadgeRule, error)
	// HighestLevel returns the enabled level with the largest requirement
	// not above experience, or nil.
	HighestLevel(ctx context.Context, experience int64) (*LevelRule, error)
}

type gormRepository struct {
	points     repository.Repository[PointRule]
	experience repository.Repository[ExperienceRule]
	badges     repository.Repository[BadgeRule]
	levels     repository.Repository[LevelRule]
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{
		points:     repository.ProvideStore[PointRule](db),
		experience: repository.ProvideStore[ExperienceRule](db),
		badges:     repository.ProvideStore[BadgeRule](db),
		levels:     repository.ProvideStore[LevelRule](db),
	}
}

func (r *gormRepository) WithTrx(tx *gorm.DB) Repository {
	return &gormRepository{
		points:     r.points.WithTrx(tx),
		experience: r.experience.WithTrx(tx),
		badges:     r.badges.WithTrx(tx),
		levels:     r.levels.WithTrx(tx),
	}
}

var byID = option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "asc"})

func (r *gormRepository) FindPointRules(ctx context.Context, business, eventKey string) ([]*PointRule, error) {
	return r.points.Find(ctx, &PointRule{Business: business, EventKey: eventKey, Enabled: true}, byID)
}

func (r *gormRepository) FindExperienceRules(ctx context.Context, business, eventKey string) ([]*ExperienceRule, error) {
	return r.experience.Find(ctx, &ExperienceRule{Business: business, EventKey: eventKey, Enabled: true}, byID)
}

func (r *gormRepository) FindBadgeRules(ctx context.Context, business, eventKey string) ([]*BadgeRule, error) {
	return r.badges.Find(ctx, &BadgeRule{Business: business, EventKey: eventKey, Enabled: true}, byID)
}

func (r *gormRepository) HighestLevel(ctx context.Context, experience int64) (*LevelRule, error) {
	return r.levels.FindOne(ctx, &LevelRule{Enabled: true},
		option.ApplyOperator(option.Condition{Field: "required_experience", Operator: option.LTE, Value: experience}),
		option.WithSortBy(option.QuerySortBy{SortBy: "required_experience", OrderBy: "desc"}),
		option.WithSortBy(option.QuerySortBy{SortBy: "id", OrderBy: "desc"}),
	)
}
