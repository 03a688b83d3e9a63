package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "invoices"

// BoltDB implements Store using BoltDB
type BoltDB struct {
	db *bbolt.DB
	recordKeeper
}

// NewBoltDB creates a new BoltDB store with UUIDv7 IDs and the system clock
func NewBoltDB(path string) (*BoltDB, error) {
	return NewBoltDBWithDeps(path, nil, nil)
}

// NewBoltDBWithDeps creates a new BoltDB store with custom dependencies for testing
func NewBoltDBWithDeps(path string, idGen IDGenerator, timeSrc TimeSource) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltDB{db: db, recordKeeper: newRecordKeeper(idGen, timeSrc)}, nil
}

// Create saves a new invoice
func (b *BoltDB) Create(ctx context.Context, inv *Invoice) (*Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("creating invoice", err)
	}
	record, err := b.prepareNew(inv)
	if err != nil {
		return nil, storeError("preparing invoice", err)
	}

	err = b.db.Update(func(tx *bbolt.Tx) error {
		return putInvoice(tx.Bucket([]byte(bucketName)), record)
	})
	if err != nil {
		return nil, storeError("saving invoice", err)
	}
	return record, nil
}

// Get retrieves an invoice by ID
func (b *BoltDB) Get(ctx context.Context, id string) (*Invoice, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storeError("getting invoice", err)
	}

	var inv *Invoice
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		inv, err = getInvoice(tx.Bucket([]byte(bucketName)), id)
		return err
	})
	if err != nil {
		return nil, passNotFound(err, "getting invoice")
	}
	return inv, nil
}

// Update applies patch to an invoice in a single transaction
func (b *BoltDB) Update(ctx context.Context, id string, patch Patch) (*Invoice, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storeError("updating invoice", err)
	}

	var updated *Invoice
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		current, err := getInvoice(bucket, id)
		if err != nil {
			return err
		}
		updated, err = b.applyPatch(current, patch)
		if err != nil {
			return err
		}
		return putInvoice(bucket, updated)
	})
	if err != nil {
		return nil, passNotFound(err, "updating invoice")
	}
	return updated, nil
}

// Delete removes an invoice
func (b *BoltDB) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storeError("deleting invoice", err)
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return passNotFound(err, "deleting invoice")
	}
	return nil
}

// List returns all invoices, newest first
func (b *BoltDB) List(ctx context.Context) ([]*Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("listing invoices", err)
	}

	invoices := make([]*Invoice, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var inv Invoice
			if err := json.Unmarshal(v, &inv); err != nil {
				return fmt.Errorf("unmarshaling invoice %s: %w", k, err)
			}
			invoices = append(invoices, &inv)
			return nil
		})
	})
	if err != nil {
		return nil, storeError("listing invoices", err)
	}

	slices.SortStableFunc(invoices, newestFirst)
	return invoices, nil
}

// Ping checks that the database file is open
func (b *BoltDB) Ping(ctx context.Context) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(bucketName)) == nil {
			return storeError("checking database", errors.New("bucket is missing"))
		}
		return nil
	})
}

// Close closes the database
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func getInvoice(bucket *bbolt.Bucket, id string) (*Invoice, error) {
	data := bucket.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var inv Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("unmarshaling invoice: %w", err)
	}
	return &inv, nil
}

func putInvoice(bucket *bbolt.Bucket, inv *Invoice) error {
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshaling invoice: %w", err)
	}
	return bucket.Put([]byte(inv.ID), data)
}

func storeError(action string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, action, err)
}

// passNotFound keeps not-found errors as they are and tags everything else as a store failure
func passNotFound(err error, action string) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return storeError(action, err)
}
