package resolve_test

import (
	"context"
	"database/sql"
	"testing"

	"ms-coupons/internal/resolve"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type promo struct {
	bun.BaseModel `bun:"table:promos"`

	ID   string `bun:"id,pk"`
	Code string `bun:"code"`
}

func setupTestDB(t *testing.T) *bun.DB {
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	_, err = db.NewCreateTable().Model((*promo)(nil)).Exec(ctx)
	require.NoError(t, err)

	rows := []promo{
		{ID: "p1", Code: "SAVE10"},
		{ID: "p2", Code: "FREESHIP"},
	}
	_, err = db.NewInsert().Model(&rows).Exec(ctx)
	require.NoError(t, err)
	return db
}

func TestByIDOrField_ID(t *testing.T) {
	db := setupTestDB(t)

	got, err := resolve.ByIDOrField[promo](context.Background(), db, "p1", "code", "")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", got.Code)
}

func TestByIDOrField_FallsBackToField(t *testing.T) {
	db := setupTestDB(t)

	got, err := resolve.ByIDOrField[promo](context.Background(), db, "missing", "code", "FREESHIP")
	require.NoError(t, err)
	assert.Equal(t, "p2", got.ID)

	got, err = resolve.ByIDOrField[promo](context.Background(), db, "", "code", "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)
}

func TestByIDOrField_IDWinsOverDisagreeingCode(t *testing.T) {
	db := setupTestDB(t)

	got, err := resolve.ByIDOrField[promo](context.Background(), db, "p1", "code", "FREESHIP")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)
	assert.Equal(t, "SAVE10", got.Code)
}

func TestByIDOrField_NotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := resolve.ByIDOrField[promo](context.Background(), db, "nope", "code", "NOPE")
	assert.ErrorIs(t, err, resolve.ErrNotFound)

	_, err = resolve.ByIDOrField[promo](context.Background(), db, "", "code", "")
	assert.ErrorIs(t, err, resolve.ErrNotFound)
}
