package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS invoices (
	id         uuid PRIMARY KEY,
	document   jsonb NOT NULL,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
)`
	createIndexSQL = `CREATE INDEX IF NOT EXISTS invoices_created_at_idx ON invoices (created_at DESC, id DESC)`
)

// PostgresConfig holds connection pool settings
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// Postgres implements Store on a single JSONB table
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	recordKeeper
}

// NewPostgres connects to Postgres and creates the invoices table if needed
func NewPostgres(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*Postgres, error) {
	return NewPostgresWithDeps(ctx, cfg, logger, nil, nil)
}

// NewPostgresWithDeps connects to Postgres with custom dependencies for testing
func NewPostgresWithDeps(ctx context.Context, cfg PostgresConfig, logger *slog.Logger, idGen IDGenerator, timeSrc TimeSource) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "invoice-tracker"

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	logger.Info("Connecting to postgres")
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	for _, stmt := range []string{createTableSQL, createIndexSQL} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("creating invoices table: %w", err)
		}
	}

	return &Postgres{pool: pool, logger: logger, recordKeeper: newRecordKeeper(idGen, timeSrc)}, nil
}

// Create saves a new invoice
func (p *Postgres) Create(ctx context.Context, inv *Invoice) (*Invoice, error) {
	record, err := p.prepareNew(inv)
	if err != nil {
		return nil, storeError("preparing invoice", err)
	}
	doc, err := json.Marshal(record)
	if err != nil {
		return nil, storeError("marshaling invoice", err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO invoices (id, document, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		record.ID, doc, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return nil, storeError("inserting invoice", err)
	}
	return record, nil
}

// Get retrieves an invoice by ID
func (p *Postgres) Get(ctx context.Context, id string) (*Invoice, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	var doc []byte
	err := p.pool.QueryRow(ctx, `SELECT document FROM invoices WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		return nil, rowError(err, id, "getting invoice")
	}
	return decodeDocument(doc)
}

// Update applies patch to an invoice inside a transaction holding the row lock
func (p *Postgres) Update(ctx context.Context, id string, patch Patch) (*Invoice, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	var updated *Invoice
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var doc []byte
		err := tx.QueryRow(ctx, `SELECT document FROM invoices WHERE id = $1 FOR UPDATE`, id).Scan(&doc)
		if err != nil {
			return rowError(err, id, "locking invoice")
		}
		current, err := decodeDocument(doc)
		if err != nil {
			return err
		}
		updated, err = p.applyPatch(current, patch)
		if err != nil {
			return err
		}
		doc, err = json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("marshaling invoice: %w", err)
		}
		_, err = tx.Exec(ctx, `UPDATE invoices SET document = $2, updated_at = $3 WHERE id = $1`,
			id, doc, updated.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, passNotFound(err, "updating invoice")
	}
	return updated, nil
}

// Delete removes an invoice
func (p *Postgres) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	tag, err := p.pool.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return storeError("deleting invoice", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns all invoices, newest first
func (p *Postgres) List(ctx context.Context) ([]*Invoice, error) {
	rows, err := p.pool.Query(ctx, `SELECT document FROM invoices ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, storeError("listing invoices", err)
	}
	docs, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, storeError("reading invoices", err)
	}

	invoices := make([]*Invoice, 0, len(docs))
	for _, doc := range docs {
		inv, err := decodeDocument(doc)
		if err != nil {
			return nil, storeError("listing invoices", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

// Ping checks the connection pool
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return storeError("pinging postgres", err)
	}
	return nil
}

// Close closes the connection pool
func (p *Postgres) Close() error {
	p.logger.Info("Closing postgres connections")
	p.pool.Close()
	return nil
}

func decodeDocument(doc []byte) (*Invoice, error) {
	var inv Invoice
	if err := json.Unmarshal(doc, &inv); err != nil {
		return nil, fmt.Errorf("unmarshaling invoice: %w", err)
	}
	return &inv, nil
}

func rowError(err error, id, action string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return storeError(action, err)
}
