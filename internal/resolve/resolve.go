// Package resolve looks records up by primary key first and falls back to
// an equality match on a secondary indexed column.
package resolve

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
)

var ErrNotFound = errors.New("record not found")

// ByIDOrField returns the row of T whose id equals id, or failing that the
// first row whose field equals value. The id lookup always wins when both
// are supplied, even if the two would resolve to different rows.
func ByIDOrField[T any](ctx context.Context, db bun.IDB, id, field, value string) (*T, error) {
	if id != "" {
		row := new(T)
		err := db.NewSelect().
			Model(row).
			Where("?PKs = ?", id).
			Limit(1).
			Scan(ctx)
		if err == nil {
			return row, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lookup by id %q: %w", id, err)
		}
	}

	if value == "" {
		return nil, ErrNotFound
	}

	row := new(T)
	err := db.NewSelect().
		Model(row).
		Where("? = ?", bun.Ident(field), value).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup by %s %q: %w", field, value, err)
	}
	return row, nil
}
