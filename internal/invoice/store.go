package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists invoice records
type Store interface {
	// Create assigns an ID and timestamps to inv and saves it
	Create(ctx context.Context, inv *Invoice) (*Invoice, error)

	// Get retrieves an invoice by ID
	Get(ctx context.Context, id string) (*Invoice, error)

	// Update replaces the fields present in patch and refreshes updated_at
	Update(ctx context.Context, id string, patch Patch) (*Invoice, error)

	// Delete removes an invoice
	Delete(ctx context.Context, id string) error

	// List returns all invoices, newest first
	List(ctx context.Context) ([]*Invoice, error)

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error

	// Close releases the store
	Close() error
}

// Patch is a set of top-level invoice fields to replace. A null value clears the field.
type Patch map[string]json.RawMessage

// IDGenerator generates unique IDs for invoices
type IDGenerator interface {
	Generate() (string, error)
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates time ordered UUIDv7 IDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// ValidateID reports whether id is a well formed invoice ID. Only the canonical lower case
// 36 character UUID form is accepted.
func ValidateID(id string) error {
	if len(id) != 36 || strings.ToLower(id) != id {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return nil
}

// recordKeeper holds the ID and timestamp rules shared by every Store
type recordKeeper struct {
	idGenerator IDGenerator
	timeSource  TimeSource
}

func newRecordKeeper(idGen IDGenerator, timeSrc TimeSource) recordKeeper {
	if idGen == nil {
		idGen = &defaultIDGenerator{}
	}
	if timeSrc == nil {
		timeSrc = &defaultTimeSource{}
	}
	return recordKeeper{idGenerator: idGen, timeSource: timeSrc}
}

func (k recordKeeper) now() time.Time {
	return k.timeSource.Now().UTC().Truncate(time.Microsecond)
}

// prepareNew returns a copy of inv with a fresh ID and timestamps. Reserved keys supplied by
// the caller are discarded.
func (k recordKeeper) prepareNew(inv *Invoice) (*Invoice, error) {
	if inv == nil {
		inv = &Invoice{}
	}
	record, err := inv.Clone()
	if err != nil {
		return nil, fmt.Errorf("copying invoice: %w", err)
	}
	stripReserved(record)

	id, err := k.idGenerator.Generate()
	if err != nil {
		return nil, fmt.Errorf("generating id: %w", err)
	}
	now := k.now()
	record.ID = id
	record.CreatedAt = now
	record.UpdatedAt = now
	return record, nil
}

// applyPatch returns current with patch applied and updated_at moved strictly forward
func (k recordKeeper) applyPatch(current *Invoice, patch Patch) (*Invoice, error) {
	data, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("marshaling invoice: %w", err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("unmarshaling invoice fields: %w", err)
	}

	for key, value := range patch {
		if key == "" || reservedKeys[key] {
			continue
		}
		if len(value) == 0 || string(value) == "null" {
			delete(fields, key)
			continue
		}
		fields[key] = value
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshaling patched invoice: %w", err)
	}
	var updated Invoice
	if err := json.Unmarshal(merged, &updated); err != nil {
		return nil, fmt.Errorf("unmarshaling patched invoice: %w", err)
	}

	updated.ID = current.ID
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = k.now()
	if !updated.UpdatedAt.After(current.UpdatedAt) {
		updated.UpdatedAt = current.UpdatedAt.Add(time.Microsecond)
	}
	return &updated, nil
}

func stripReserved(inv *Invoice) {
	for key := range reservedKeys {
		delete(inv.Extra, key)
	}
	if len(inv.Extra) == 0 {
		inv.Extra = nil
	}
}

// newestFirst orders invoices by created_at descending, then ID descending
func newestFirst(a, b *Invoice) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(b.ID, a.ID)
}
