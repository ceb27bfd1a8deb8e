package member

import (
	"context"

	"growth-pipeline/pkg/db/option"
	"growth-pipeline/pkg/repository"

	"gorm.io/gorm"
)

type Repository interface {
	WithTrx(tx *gorm.DB) Repository
	// Get returns nil, nil when the user does not exist.
	Get(ctx context.Context, id int64) (*User, error)
	// GetForUpdate reads the user under a row lock.
	GetForUpdate(ctx context.Context, id int64) (*User, error)
	Update(ctx context.Context, id int64, updates map[string]any) error
}

type gormRepository struct {
	users repository.Repository[User]
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{users: repository.ProvideStore[User](db)}
}

func (r *gormRepository) WithTrx(tx *gorm.DB) Repository {
	return &gormRepository{users: r.users.WithTrx(tx)}
}

func (r *gormRepository) Get(ctx context.Context, id int64) (*User, error) {
	return r.users.FindOne(ctx, &User{ID: id})
}

func (r *gormRepository) GetForUpdate(ctx context.Context, id int64) (*User, error) {
	return r.users.FindOne(ctx, &User{ID: id}, option.WithLockingUpdate())
}

func (r *gormRepository) Update(ctx context.Context, id int64, updates map[string]any) error {
	return r.users.Update(ctx, id, updates)
}
