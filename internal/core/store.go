package core

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GiacomoSorbiWork/Volteras/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

const (
	tableName        = "vehicle_data"
	stagingTableName = "vehicle_data_staging"

	pgUniqueViolation = "23505"
)

// selectColumns is the column list for reads, in Columns order.
const selectColumns = `id, vehicle_id, timestamp, speed, odometer, soc, elevation, shift_state`

// insertColumns are the permanent-table columns filled from staging.
var insertColumns = []string{"timestamp", "speed", "odometer", "soc", "elevation", "shift_state", "vehicle_id"}

// stagingTypes gives staging column types. Columns not listed are TEXT.
var stagingTypes = map[string]string{
	"timestamp":   "TIMESTAMPTZ",
	"speed":       "DOUBLE PRECISION",
	"odometer":    "DOUBLE PRECISION",
	"soc":         "DOUBLE PRECISION",
	"elevation":   "DOUBLE PRECISION",
	"shift_state": "TEXT",
	"vehicle_id":  "TEXT",
}

// BulkResult reports a bulk load.
type BulkResult struct {
	Staged   int64
	Inserted int64
}

// Store persists telemetry records.
type Store interface {
	Insert(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id int64) (*Record, error)
	Count(ctx context.Context, q Resolved) (int64, error)
	List(ctx context.Context, q Resolved, limit, offset int) ([]Record, error)
	Stream(ctx context.Context, q Resolved, fn func(Record) error) error
	VehicleIDs(ctx context.Context) ([]string, error)
	// BulkLoad stages CSV (with a header line) whose columns are named by
	// columns, then merges it, skipping rows that collide on
	// (vehicle_id, timestamp).
	BulkLoad(ctx context.Context, columns []string, r io.Reader) (BulkResult, error)
	Ping(ctx context.Context) error
}

// PgStore is the PostgreSQL Store.
type PgStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPgStore wraps a connection pool.
func NewPgStore(pool *pgxpool.Pool, logger *slog.Logger) *PgStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgStore{pool: pool, logger: logger}
}

// Migrate creates the table and indexes if they do not exist.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return storageErr("migrate", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Insert stores rec and sets its ID. A (vehicle_id, timestamp) collision
// returns a ConflictError.
func (s *PgStore) Insert(ctx context.Context, rec *Record) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO vehicle_data (vehicle_id, timestamp, speed, odometer, soc, elevation, shift_state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		rec.VehicleID, rec.Timestamp, rec.Speed, rec.Odometer, rec.SOC, rec.Elevation, rec.ShiftState,
	).Scan(&rec.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return &ConflictError{Fields: UniqueFields}
		}
		return storageErr("insert record", err)
	}
	return nil
}

// Get returns the record with id or a NotFoundError.
func (s *PgStore) Get(ctx context.Context, id int64) (*Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM vehicle_data WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Message: "Not found."}
	}
	if err != nil {
		return nil, storageErr("get record", err)
	}
	return rec, nil
}

// Count returns the number of records matching q.
func (s *PgStore) Count(ctx context.Context, q Resolved) (int64, error) {
	where, args := q.Where()
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vehicle_data`+where, args...).Scan(&n); err != nil {
		return 0, storageErr("count records", err)
	}
	return n, nil
}

// List returns one page of records matching q in q's order.
func (s *PgStore) List(ctx context.Context, q Resolved, limit, offset int) ([]Record, error) {
	where, args := q.Where()
	sql := fmt.Sprintf(`SELECT %s FROM vehicle_data%s%s LIMIT $%d OFFSET $%d`,
		selectColumns, where, q.OrderBy(), len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	records := make([]Record, 0, limit)
	err := s.query(ctx, sql, args, func(rec Record) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, storageErr("list records", err)
	}
	return records, nil
}

// Stream calls fn for every record matching q, in q's order, without
// buffering the result set.
func (s *PgStore) Stream(ctx context.Context, q Resolved, fn func(Record) error) error {
	where, args := q.Where()
	sql := `SELECT ` + selectColumns + ` FROM vehicle_data` + where + q.OrderBy()
	return s.query(ctx, sql, args, fn)
}

func (s *PgStore) query(ctx context.Context, sql string, args []any, fn func(Record) error) error {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		// Stop early if the client went away
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("scan record: %w", err)
		}
		if err := fn(*rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// VehicleIDs returns every distinct vehicle_id, sorted.
func (s *PgStore) VehicleIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT vehicle_id FROM vehicle_data ORDER BY vehicle_id`)
	if err != nil {
		return nil, storageErr("list vehicle ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storageErr("list vehicle ids", err)
	}
	return ids, nil
}

// BulkLoad copies r into a per-transaction staging table and merges it into
// vehicle_data with ON CONFLICT DO NOTHING. Everything runs on one pooled
// connection in one transaction; the staging table is dropped on commit.
func (s *PgStore) BulkLoad(ctx context.Context, columns []string, r io.Reader) (BulkResult, error) {
	var res BulkResult
	if err := checkStagingColumns(columns); err != nil {
		return res, err
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return res, storageErr("acquire connection", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return res, storageErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	// Naive CSV timestamps are UTC whatever the session zone is.
	if _, err := tx.Exec(ctx, `SET LOCAL TimeZone = 'UTC'`); err != nil {
		return res, storageErr("pin session timezone", err)
	}

	if _, err := tx.Exec(ctx, createStagingSQL(columns)); err != nil {
		return res, storageErr("create staging table", err)
	}

	copySQL := fmt.Sprintf(`COPY %s (%s) FROM STDIN WITH (FORMAT csv, HEADER true)`,
		pgx.Identifier{stagingTableName}.Sanitize(), joinIdentifiers(columns))
	tag, err := tx.Conn().PgConn().CopyFrom(ctx, r, copySQL)
	if err != nil {
		return res, storageErr("copy into staging", err)
	}
	res.Staged = tag.RowsAffected()

	cols := joinIdentifiers(insertColumns)
	mergeSQL := fmt.Sprintf(`INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (timestamp, vehicle_id) DO NOTHING`,
		pgx.Identifier{tableName}.Sanitize(), cols, cols, pgx.Identifier{stagingTableName}.Sanitize())
	tag, err = tx.Exec(ctx, mergeSQL)
	if err != nil {
		return res, storageErr("merge staging", err)
	}
	res.Inserted = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return res, storageErr("commit bulk load", err)
	}

	logging.Enrich(ctx, s.logger).Debug("bulk load committed",
		"rows_staged", res.Staged,
		"rows_inserted", res.Inserted,
	)
	return res, nil
}

// checkStagingColumns requires every insert column to be present exactly once.
func checkStagingColumns(columns []string) error {
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if seen[c] {
			return &StorageError{Op: "bulk load", Err: fmt.Errorf("duplicate staging column %q", c)}
		}
		seen[c] = true
	}
	for _, c := range insertColumns {
		if !seen[c] {
			return &StorageError{Op: "bulk load", Err: fmt.Errorf("staging columns missing %q", c)}
		}
	}
	return nil
}

func createStagingSQL(columns []string) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		typ, ok := stagingTypes[c]
		if !ok {
			typ = "TEXT"
		}
		defs[i] = pgx.Identifier{c}.Sanitize() + " " + typ
	}
	return fmt.Sprintf(`CREATE TEMP TABLE %s (%s) ON COMMIT DROP`,
		pgx.Identifier{stagingTableName}.Sanitize(), strings.Join(defs, ", "))
}

func joinIdentifiers(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	if err := row.Scan(
		&rec.ID,
		&rec.VehicleID,
		&rec.Timestamp,
		&rec.Speed,
		&rec.Odometer,
		&rec.SOC,
		&rec.Elevation,
		&rec.ShiftState,
	); err != nil {
		return nil, err
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return &rec, nil
}
