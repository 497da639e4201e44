package db

import (
	"context"
	"fmt"

	"ms-coupons/internal/models"

	"github.com/uptrace/bun"
)

// CreateSchema creates the coupon tables from the bun models. Production
// databases are managed by the SQL migrations; this is used for embedded
// databases and tests.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*models.Coupon)(nil),
		(*models.Order)(nil),
		(*models.User)(nil),
		(*models.ActivityLog)(nil),
		(*models.Redemption)(nil),
	}
	for _, m := range tables {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}

	_, err := db.NewCreateIndex().
		Model((*models.Coupon)(nil)).
		Index("idx_coupons_code").
		Column("code").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create coupon code index: %w", err)
	}
	return nil
}
