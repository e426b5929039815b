package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	shiperr "github.com/airfi/edgeship/internal/errors"
	"github.com/airfi/edgeship/pkg/types"
)

// ErrNotFound is returned by Get when no record has the requested id.
var ErrNotFound = errors.New("outbox: record not found")

// Option configures a Store.
type Option func(*options)

type options struct {
	now      func() time.Time
	deviceID string
}

// WithClock overrides the clock used for CreatedAt on append.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithDeviceID sets the device id attached to records appended without one.
func WithDeviceID(id string) Option {
	return func(o *options) { o.deviceID = id }
}

// Store is the durable outbox of one stream.
// It is safe for concurrent use; writes are serialized on a single connection.
type Store[P any] struct {
	db     *sql.DB
	path   string
	schema Schema[P]
	opts   options
	mu     sync.Mutex

	insertStmt *sql.Stmt
	scanStmt   *sql.Stmt
	markStmt   *sql.Stmt
	countStmt  *sql.Stmt
	getStmt    *sql.Stmt
	closeOnce  sync.Once
	closeErr   error
}

// Open opens or creates the SQLite database at path and initializes the stream table.
// A failure to create the schema is returned as a fatal STORE/SCHEMA_FAILED error.
func Open[P any](path string, schema Schema[P], opts ...Option) (*Store[P], error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := schema.validate(); err != nil {
		return nil, shiperr.NewStoreError(shiperr.CodeSchemaFailed, "invalid stream schema", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, shiperr.NewStoreError(shiperr.CodeOpenFailed, "failed to create store directory", err)
		}
	}

	// synchronous=FULL: an acknowledged append survives power loss
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		return nil, shiperr.NewStoreError(shiperr.CodeOpenFailed, "failed to open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, shiperr.NewStoreError(shiperr.CodeOpenFailed, "failed to open database", err)
	}

	s := &Store[P]{db: db, path: path, schema: schema, opts: o}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, shiperr.NewStoreError(shiperr.CodeSchemaFailed,
			fmt.Sprintf("failed to initialize %s schema", schema.Table), err)
	}

	if err := s.prepare(); err != nil {
		s.closeStmts()
		db.Close()
		return nil, shiperr.NewStoreError(shiperr.CodeSchemaFailed, "failed to prepare statements", err)
	}

	return s, nil
}

func (s *Store[P]) initSchema() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range s.schema.allSchemaSQL() {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store[P]) prepare() error {
	var err error
	cols := s.schema.selectColumns()
	table := s.schema.Table

	if s.insertStmt, err = s.db.Prepare(s.schema.insertSQL()); err != nil {
		return err
	}
	if s.scanStmt, err = s.db.Prepare(fmt.Sprintf(
		`SELECT %s FROM %s WHERE upload_status = 0 ORDER BY COALESCE(stream_key, id) ASC, id ASC`,
		cols, table)); err != nil {
		return err
	}
	if s.markStmt, err = s.db.Prepare(fmt.Sprintf(
		`UPDATE %s SET upload_status = 1 WHERE id = ? AND upload_status = 0`, table)); err != nil {
		return err
	}
	if s.countStmt, err = s.db.Prepare(fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE upload_status = 0`, table)); err != nil {
		return err
	}
	if s.getStmt, err = s.db.Prepare(fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, cols, table)); err != nil {
		return err
	}
	return nil
}

// Path returns the database file path.
func (s *Store[P]) Path() string {
	return s.path
}

// Table returns the stream table name.
func (s *Store[P]) Table() string {
	return s.schema.Table
}

// Append persists rec with status Pending and returns the assigned id.
// ID, Status, CreatedAt (when zero), DeviceID (when empty), StreamKey and Fingerprint
// are filled in on rec. On error nothing is recorded.
func (s *Store[P]) Append(ctx context.Context, rec *Record[P]) (int64, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.opts.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.DeviceID == "" {
		rec.DeviceID = s.opts.deviceID
	}

	extra, err := encodeExtra(rec.Extra)
	if err != nil {
		return 0, shiperr.NewStoreError(shiperr.CodeWriteFailed, "failed to encode record", err)
	}

	values := s.schema.Values(&rec.Payload)
	if len(values) != len(s.schema.Columns) {
		return 0, shiperr.NewInternalError(
			fmt.Sprintf("%s: payload has %d values for %d columns", s.schema.Table, len(values), len(s.schema.Columns)), nil)
	}

	var streamKey any
	if s.schema.StreamKey != nil {
		key := s.schema.StreamKey(&rec.Payload)
		streamKey = key
		rec.StreamKey = key
	}
	fp := fingerprint(rec.DeviceID, values, rec.Attachment, extra, rec.CreatedAt)

	args := make([]any, 0, len(values)+7)
	args = append(args, streamKey, rec.DeviceID)
	args = append(args, values...)
	args = append(args, rec.Attachment, extra, fp, int(types.StatusPending),
		rec.CreatedAt.Format(time.RFC3339Nano))

	s.mu.Lock()
	res, err := s.insertStmt.ExecContext(ctx, args...)
	s.mu.Unlock()
	if err != nil {
		return 0, shiperr.NewStoreError(shiperr.CodeWriteFailed,
			fmt.Sprintf("failed to append to %s", s.schema.Table), err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, shiperr.NewStoreError(shiperr.CodeWriteFailed, "failed to read inserted id", err)
	}

	rec.ID = id
	if s.schema.StreamKey == nil {
		rec.StreamKey = id
	}
	rec.Status = types.StatusPending
	rec.Fingerprint = fp
	return id, nil
}

// ScanPending returns every Pending record ordered by stream key, then id.
// The result is a snapshot; records appended afterwards appear in the next scan.
func (s *Store[P]) ScanPending(ctx context.Context) ([]Record[P], error) {
	rows, err := s.scanStmt.QueryContext(ctx)
	if err != nil {
		return nil, shiperr.NewStoreError(shiperr.CodeReadFailed,
			fmt.Sprintf("failed to scan %s", s.schema.Table), err)
	}
	defer rows.Close()

	var out []Record[P]
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, shiperr.NewStoreError(shiperr.CodeReadFailed,
				fmt.Sprintf("failed to read %s row", s.schema.Table), err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, shiperr.NewStoreError(shiperr.CodeReadFailed,
			fmt.Sprintf("failed to scan %s", s.schema.Table), err)
	}
	return out, nil
}

// MarkDelivered transitions the record with the given id from Pending to Delivered.
// It returns the number of rows changed: 1 on transition, 0 when the id is unknown
// or already delivered.
func (s *Store[P]) MarkDelivered(ctx context.Context, id int64) (int64, error) {
	s.mu.Lock()
	res, err := s.markStmt.ExecContext(ctx, id)
	s.mu.Unlock()
	if err != nil {
		return 0, shiperr.NewStoreError(shiperr.CodeWriteFailed,
			fmt.Sprintf("failed to mark %s record %d delivered", s.schema.Table, id), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, shiperr.NewStoreError(shiperr.CodeWriteFailed, "failed to read rows affected", err)
	}
	return n, nil
}

// CountPending returns the number of records not yet delivered.
func (s *Store[P]) CountPending(ctx context.Context) (int64, error) {
	var n int64
	if err := s.countStmt.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, shiperr.NewStoreError(shiperr.CodeReadFailed,
			fmt.Sprintf("failed to count pending %s", s.schema.Table), err)
	}
	return n, nil
}

// Get returns the record with the given id regardless of its status.
func (s *Store[P]) Get(ctx context.Context, id int64) (*Record[P], error) {
	rec, err := s.scanRecord(s.getStmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, shiperr.NewStoreError(shiperr.CodeReadFailed,
			fmt.Sprintf("failed to get %s record %d", s.schema.Table, id), err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store[P]) scanRecord(row rowScanner) (*Record[P], error) {
	var (
		rec       Record[P]
		streamKey sql.NullInt64
		extra     []byte
		status    int
		createdAt string
	)

	dest := []any{&rec.ID, &streamKey, &rec.DeviceID}
	dest = append(dest, s.schema.Targets(&rec.Payload)...)
	dest = append(dest, &rec.Attachment, &extra, &rec.Fingerprint, &status, &createdAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if streamKey.Valid {
		rec.StreamKey = streamKey.Int64
	} else {
		rec.StreamKey = rec.ID
	}
	rec.Status = types.Status(status)

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	rec.CreatedAt = ts

	if rec.Extra, err = decodeExtra(extra); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store[P]) closeStmts() {
	for _, stmt := range []*sql.Stmt{s.insertStmt, s.scanStmt, s.markStmt, s.countStmt, s.getStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
}

// Close releases the prepared statements and the database handle. Safe to call twice.
func (s *Store[P]) Close() error {
	s.closeOnce.Do(func() {
		s.closeStmts()
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
