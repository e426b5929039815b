package types

// ColumnDef defines a single payload column of a stream table.
type ColumnDef struct {
	// Name is the column name
	Name string `json:"name"`

	// Type is the SQLite type: TEXT, INTEGER, REAL
	Type string `json:"type"`

	// Nullable indicates whether the column can contain NULL values
	Nullable bool `json:"nullable"`
}

// Stream names an independent outbox stream.
type Stream string

const (
	// StreamPassenger carries passenger-crossing events from the vision pipeline.
	StreamPassenger Stream = "passenger"

	// StreamHealth carries periodic device-health samples.
	StreamHealth Stream = "health"
)

// Status is the delivery state of an outbox record.
type Status int

const (
	// StatusPending marks a record that has not been acknowledged by the ingestion API.
	StatusPending Status = 0

	// StatusDelivered marks a record the ingestion API accepted. Terminal.
	StatusDelivered Status = 1
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDelivered:
		return "delivered"
	default:
		return "unknown"
	}
}
