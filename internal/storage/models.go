package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist or is not
// visible to the requesting owner. Ownership failures deliberately present
// the same way as missing records.
var ErrNotFound = errors.New("not found")

// Document processing states.
const (
	StatePending    = "pending"
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// Document is an uploaded PDF owned by a single tenant.
type Document struct {
	ID         string
	OwnerID    string
	Filename   string
	Title      string
	State      string // "pending", "processing", "completed", "failed"
	ChunkCount int
	PageCount  int
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Chunk is one embedded text fragment of a Document. OwnerID is denormalized
// from the parent Document and must always match it.
type Chunk struct {
	ID            string
	DocumentID    string
	OwnerID       string
	Text          string
	Embedding     []float32
	PageNumber    int
	SequenceIndex int
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
