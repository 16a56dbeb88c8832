package connections

import (
	"context"
	"database/sql"

	"dispatchd/internal/storage"
)

// Directory decorates a storage.Store, answering LookupConnection from
// Postgres and forwarding every other storage.Store method to inner
// unchanged via embedding — the composite query key is (account_id,
// target_name), exactly as spec.md §3 describes.
type Directory struct {
	storage.Store
	db *DB
}

func NewDirectory(inner storage.Store, db *DB) *Directory {
	return &Directory{Store: inner, db: db}
}

func (d *Directory) LookupConnection(ctx context.Context, accountID, target string) (storage.ConnectionRecord, error) {
	var rec storage.ConnectionRecord
	row := d.db.QueryRowContext(ctx, `
		SELECT account_id, target_name, backing_resource, updated_at
		FROM connections
		WHERE account_id = $1 AND target_name = $2`, accountID, target)

	if err := row.Scan(&rec.AccountID, &rec.TargetName, &rec.BackingResource, &rec.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return storage.ConnectionRecord{}, storage.ErrNotFound
		}
		return storage.ConnectionRecord{}, err
	}
	return rec, nil
}

// Upsert provisions or replaces a connection binding. There is no
// operation in spec.md's HTTP surface for writing connection records —
// they are long-lived configuration data, provisioned out of band.
func (d *Directory) Upsert(ctx context.Context, rec storage.ConnectionRecord) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO connections (account_id, target_name, backing_resource, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (account_id, target_name)
		DO UPDATE SET backing_resource = EXCLUDED.backing_resource, updated_at = now()`,
		rec.AccountID, rec.TargetName, rec.BackingResource)
	return err
}
