// Package store implements the durable local activation table: a single
// embedded SQL database file keyed by activation hash, filtered by
// (product UID, machine UID). It knows nothing about signatures or
// ranking — those are the caller's concern — only about persistence and
// the update-eligibility predicate.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	licerrors "licensekit/internal/errors"
)

// busyTimeoutMillis bounds how long a statement waits on a file lock held
// by another process or goroutine before giving up.
const busyTimeoutMillis = 1000

// refreshWindowMillis is the 24-hour interval used both for "imminent expiry"
// and "stale local copy" in ListNeedingUpdate. It is hard-coded today and
// documented as a future server-configurable value (see SPEC_FULL.md); kept
// here, centralized, rather than duplicated at each call site.
const refreshWindowMillis = int64(24 * 60 * 60 * 1000)

// Row is the store's on-disk representation of an activation. It is
// deliberately independent of the public Activation type so this package
// never needs to import the module root.
type Row struct {
	Hash             []byte
	ProductUid       string
	MachineUid       []byte
	ExpiresAt        *int64
	LicenseExpiresAt *int64
	LastUpdatedAt    int64
	LicenseType      string
	Signature        []byte
}

// Options configures where the store's database file lives.
type Options struct {
	DatabaseFile string
}

// DB is a thin wrapper over *sql.DB, generalizing the repository pattern
// used elsewhere in this codebase for an encrypted key-value store to this
// module's activation table.
type DB struct {
	*sql.DB
	options Options
}

// Open creates the enclosing directory if needed and opens (creating if
// missing) the SQLite database at options.DatabaseFile, then runs the
// idempotent migration.
func Open(options Options) (*DB, error) {
	dir := filepath.Dir(options.DatabaseFile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, licerrors.Store(fmt.Sprintf("failed to create directory %s", dir), err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", options.DatabaseFile, busyTimeoutMillis)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, licerrors.Store("failed to open activation database", err)
	}

	db := &DB{DB: sqlDB, options: options}
	if err := db.migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Reopen is idempotent when options.DatabaseFile is unchanged; otherwise it
// closes the current handle and opens a fresh one at the new path.
func (db *DB) Reopen(options Options) (*DB, error) {
	if options.DatabaseFile == db.options.DatabaseFile {
		return db, nil
	}
	if err := db.Close(); err != nil {
		return nil, licerrors.Store("failed to close previous activation database", err)
	}
	return Open(options)
}

func (db *DB) migrate(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS activations (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			hash               BLOB UNIQUE NOT NULL,
			product_uid        TEXT        NOT NULL,
			machine_uid        BLOB        NOT NULL,
			expires_at         INTEGER,
			license_expires_at INTEGER,
			last_updated_at    INTEGER     NOT NULL,
			license_type       TEXT        NOT NULL,
			signature          BLOB        NOT NULL
		);
	`)
	if err != nil {
		return licerrors.Store("failed to migrate activations table", err)
	}
	return nil
}

// Save upserts row by hash, setting last_updated_at to nowMillis.
func (db *DB) Save(ctx context.Context, row Row, nowMillis int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO activations (hash, product_uid, machine_uid, expires_at, license_expires_at, last_updated_at, license_type, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			product_uid = excluded.product_uid,
			machine_uid = excluded.machine_uid,
			expires_at = excluded.expires_at,
			license_expires_at = excluded.license_expires_at,
			last_updated_at = excluded.last_updated_at,
			license_type = excluded.license_type,
			signature = excluded.signature;
	`, row.Hash, row.ProductUid, row.MachineUid, row.ExpiresAt, row.LicenseExpiresAt, nowMillis, row.LicenseType, row.Signature)
	if err != nil {
		return licerrors.Store("failed to save activation", err)
	}
	return nil
}

// Delete removes the row with the given hash, if any.
func (db *DB) Delete(ctx context.Context, hash []byte) error {
	_, err := db.ExecContext(ctx, `DELETE FROM activations WHERE hash = ?`, hash)
	if err != nil {
		return licerrors.Store("failed to delete activation", err)
	}
	return nil
}

// DeleteAllFor removes every row for (productUid, machineUid), returning
// the count removed.
func (db *DB) DeleteAllFor(ctx context.Context, productUid string, machineUid []byte) (int, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM activations WHERE product_uid = ? AND machine_uid = ?`, productUid, machineUid)
	if err != nil {
		return 0, licerrors.Store("failed to delete activations", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, licerrors.Store("failed to count deleted activations", err)
	}
	return int(affected), nil
}

// ListFor returns every row for (productUid, machineUid).
func (db *DB) ListFor(ctx context.Context, productUid string, machineUid []byte) ([]Row, error) {
	return db.query(ctx, `
		SELECT hash, product_uid, machine_uid, expires_at, license_expires_at, last_updated_at, license_type, signature
		FROM activations WHERE product_uid = ? AND machine_uid = ?;
	`, productUid, machineUid)
}

// ListTrialsFor returns every Trial-type row for (productUid, machineUid).
func (db *DB) ListTrialsFor(ctx context.Context, productUid string, machineUid []byte) ([]Row, error) {
	return db.query(ctx, `
		SELECT hash, product_uid, machine_uid, expires_at, license_expires_at, last_updated_at, license_type, signature
		FROM activations WHERE product_uid = ? AND machine_uid = ? AND license_type = 'Trial';
	`, productUid, machineUid)
}

// ListNeedingUpdate returns every row for (productUid, machineUid) where
// expires_at < nowMillis+24h, OR last_updated_at < nowMillis-24h, OR
// forceAll is true. Rows with a NULL expires_at and a recent
// last_updated_at are not returned unless forceAll is set.
func (db *DB) ListNeedingUpdate(ctx context.Context, productUid string, machineUid []byte, nowMillis int64, forceAll bool) ([]Row, error) {
	return db.query(ctx, `
		SELECT hash, product_uid, machine_uid, expires_at, license_expires_at, last_updated_at, license_type, signature
		FROM activations
		WHERE product_uid = ? AND machine_uid = ?
		  AND (expires_at < ? OR last_updated_at < ? OR ?);
	`, productUid, machineUid, nowMillis+refreshWindowMillis, nowMillis-refreshWindowMillis, forceAll)
}

func (db *DB) query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, licerrors.Store("failed to query activations", err)
	}
	defer rows.Close()

	var results []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.Hash, &row.ProductUid, &row.MachineUid, &row.ExpiresAt, &row.LicenseExpiresAt, &row.LastUpdatedAt, &row.LicenseType, &row.Signature); err != nil {
			return nil, licerrors.Store("failed to scan activation row", err)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, licerrors.Store("failed while iterating activation rows", err)
	}
	return results, nil
}

// ApplyRefresh atomically applies the diff produced by a server refresh:
// upserts every row in upserted, then deletes every hash in deletedHashes
// that was not among the upserted rows, all within a single transaction so
// a crash midway cannot leave the store inconsistent.
func (db *DB) ApplyRefresh(ctx context.Context, upserted []Row, deletedHashes [][]byte, nowMillis int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return licerrors.Store("failed to begin refresh transaction", err)
	}
	defer tx.Rollback()

	for _, row := range upserted {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO activations (hash, product_uid, machine_uid, expires_at, license_expires_at, last_updated_at, license_type, signature)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(hash) DO UPDATE SET
				product_uid = excluded.product_uid,
				machine_uid = excluded.machine_uid,
				expires_at = excluded.expires_at,
				license_expires_at = excluded.license_expires_at,
				last_updated_at = excluded.last_updated_at,
				license_type = excluded.license_type,
				signature = excluded.signature;
		`, row.Hash, row.ProductUid, row.MachineUid, row.ExpiresAt, row.LicenseExpiresAt, nowMillis, row.LicenseType, row.Signature)
		if err != nil {
			return licerrors.Store("failed to upsert activation during refresh", err)
		}
	}

	upsertedHashes := make(map[string]struct{}, len(upserted))
	for _, row := range upserted {
		upsertedHashes[string(row.Hash)] = struct{}{}
	}
	for _, hash := range deletedHashes {
		if _, wasUpserted := upsertedHashes[string(hash)]; wasUpserted {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM activations WHERE hash = ?`, hash); err != nil {
			return licerrors.Store("failed to delete de-provisioned activation during refresh", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return licerrors.Store("failed to commit refresh transaction", err)
	}
	return nil
}
