// Package outbox provides the durable per-stream outbox: a SQLite table holding every
// record a producer appended together with its delivery status.
package outbox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/airfi/edgeship/pkg/types"
)

// Schema describes how a stream's payload maps onto its table.
// The common columns (id, stream_key, device_id, attachment, extra, fingerprint,
// upload_status, created_at) are added by the store; Columns lists the payload columns only.
type Schema[P any] struct {
	// Table is the SQLite table name for the stream
	Table string

	// Columns are the typed payload columns, in the order Values and Targets use
	Columns []types.ColumnDef

	// Values returns the payload column values in Columns order
	Values func(p *P) []any

	// Targets returns scan destinations into p in Columns order
	Targets func(p *P) []any

	// StreamKey derives the natural ordering key. Nil means the row id orders the stream.
	StreamKey func(p *P) int64
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedColumns are owned by the store and cannot be used as payload columns.
var reservedColumns = map[string]bool{
	"id":            true,
	"stream_key":    true,
	"device_id":     true,
	"attachment":    true,
	"extra":         true,
	"fingerprint":   true,
	"upload_status": true,
	"created_at":    true,
}

// validate checks identifiers before they are interpolated into DDL.
func (s *Schema[P]) validate() error {
	if !identRe.MatchString(s.Table) {
		return fmt.Errorf("invalid table name %q", s.Table)
	}
	if s.Values == nil || s.Targets == nil {
		return fmt.Errorf("schema for %s must define Values and Targets", s.Table)
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, col := range s.Columns {
		if !identRe.MatchString(col.Name) {
			return fmt.Errorf("invalid column name %q", col.Name)
		}
		if reservedColumns[col.Name] {
			return fmt.Errorf("column %q is reserved", col.Name)
		}
		if seen[col.Name] {
			return fmt.Errorf("duplicate column %q", col.Name)
		}
		seen[col.Name] = true
		switch col.Type {
		case "TEXT", "INTEGER", "REAL":
		default:
			return fmt.Errorf("column %q has unsupported type %q", col.Name, col.Type)
		}
	}
	return nil
}

func (s *Schema[P]) payloadNames() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// createTableSQL creates the stream table.
// upload_status is 0 (pending) or 1 (delivered) and defaults to pending on insert.
// stream_key is NULL for streams ordered by row id.
func (s *Schema[P]) createTableSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", s.Table)
	b.WriteString("    id INTEGER PRIMARY KEY AUTOINCREMENT,\n")
	b.WriteString("    stream_key INTEGER,\n")
	b.WriteString("    device_id TEXT NOT NULL,\n")
	for _, col := range s.Columns {
		null := " NOT NULL"
		if col.Nullable {
			null = ""
		}
		fmt.Fprintf(&b, "    %s %s%s,\n", col.Name, col.Type, null)
	}
	b.WriteString("    attachment TEXT NOT NULL DEFAULT '',\n")
	b.WriteString("    extra BLOB,\n")
	b.WriteString("    fingerprint TEXT NOT NULL,\n")
	b.WriteString("    upload_status INTEGER NOT NULL DEFAULT 0 CHECK (upload_status IN (0, 1)),\n")
	b.WriteString("    created_at TEXT NOT NULL\n")
	b.WriteString(")")
	return b.String()
}

// pendingIndexSQL covers the scan: pending rows in stream order.
func (s *Schema[P]) pendingIndexSQL() string {
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_pending ON %s(stream_key, id)
		WHERE upload_status = 0`, s.Table, s.Table)
}

// immutableTriggerSQL rejects any update that touches a column other than upload_status.
func (s *Schema[P]) immutableTriggerSQL() string {
	cols := append([]string{"id", "stream_key", "device_id"}, s.payloadNames()...)
	cols = append(cols, "attachment", "extra", "fingerprint", "created_at")
	return fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS trg_%s_append_only
BEFORE UPDATE OF %s ON %s
BEGIN
    SELECT RAISE(ABORT, 'outbox records are append-only');
END`, s.Table, strings.Join(cols, ", "), s.Table)
}

// monotonicTriggerSQL rejects a delivered record going back to pending.
func (s *Schema[P]) monotonicTriggerSQL() string {
	return fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS trg_%s_status_monotonic
BEFORE UPDATE OF upload_status ON %s
WHEN NEW.upload_status < OLD.upload_status
BEGIN
    SELECT RAISE(ABORT, 'upload_status cannot revert to pending');
END`, s.Table, s.Table)
}

// allSchemaSQL returns all statements needed to initialize the stream table.
func (s *Schema[P]) allSchemaSQL() []string {
	return []string{
		s.createTableSQL(),
		s.pendingIndexSQL(),
		s.immutableTriggerSQL(),
		s.monotonicTriggerSQL(),
	}
}

// selectColumns is the column list shared by every read query.
func (s *Schema[P]) selectColumns() string {
	cols := append([]string{"id", "stream_key", "device_id"}, s.payloadNames()...)
	cols = append(cols, "attachment", "extra", "fingerprint", "upload_status", "created_at")
	return strings.Join(cols, ", ")
}

func (s *Schema[P]) insertSQL() string {
	cols := append([]string{"stream_key", "device_id"}, s.payloadNames()...)
	cols = append(cols, "attachment", "extra", "fingerprint", "upload_status", "created_at")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.Table, strings.Join(cols, ", "), placeholders)
}
