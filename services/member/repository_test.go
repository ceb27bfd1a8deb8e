package member

import (
	"context"
	"testing"

	"growth-pipeline/services/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRepositoryReadAndUpdate(t *testing.T) {
	db := testutil.NewTestDB(t, &User{})
	require.NoError(t, db.Create(&User{ID: 1}).Error)
	repo := NewRepository(db)
	ctx := context.Background()

	u, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StatusActive, u.Status)
	require.False(t, u.Banned())

	missing, err := repo.Get(ctx, 2)
	require.NoError(t, err)
	require.Nil(t, missing)

	err = db.Transaction(func(tx *gorm.DB) error {
		locked, err := repo.WithTrx(tx).GetForUpdate(ctx, 1)
		require.NoError(t, err)
		return repo.WithTrx(tx).Update(ctx, locked.ID, map[string]any{
			"points": locked.Points + 10,
			"status": StatusBanned,
		})
	})
	require.NoError(t, err)

	u, err = repo.Get(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 10, u.Points)
	require.True(t, u.Banned())

	require.ErrorIs(t, repo.Update(ctx, 2, map[string]any{"points": 1}), gorm.ErrRecordNotFound)
}
