package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ms-marketplace/internal/database"
	"ms-marketplace/internal/models"
	"ms-marketplace/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTxJoinsOuterTransaction(t *testing.T) {
	db := testutil.NewDB(t)
	ctx := context.Background()
	assert.False(t, database.InTx(ctx))

	boom := errors.New("boom")
	err := database.WithTx(ctx, db, func(ctx context.Context) error {
		assert.True(t, database.InTx(ctx))
		inner := database.WithTx(ctx, db, func(ctx context.Context) error {
			_, err := database.Conn(ctx, db).NewInsert().
				Model(&models.Vendor{ID: "v1", ShopName: "Ama's Kitchen", Status: models.VendorActive, CreatedAt: time.Now(), UpdatedAt: time.Now()}).
				Exec(ctx)
			return err
		})
		require.NoError(t, inner)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := db.NewSelect().Model((*models.Vendor)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "the inner insert rolls back with the outer transaction")
}
