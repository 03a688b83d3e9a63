package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zombor/invoice-tracker/internal/scanning"
)

const (
	defaultExtractTimeout = 60 * time.Second
	defaultStoreTimeout   = 10 * time.Second
)

// Upload is a document submitted for extraction
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Normalizer turns an uploaded document into a single image
type Normalizer interface {
	Normalize(ctx context.Context, data []byte, contentType string) (scanning.Image, error)
}

// ServiceOptions bounds the external calls the Service makes
type ServiceOptions struct {
	// ExtractTimeout bounds one provider call, retries included
	ExtractTimeout time.Duration
	// StoreTimeout bounds each store call
	StoreTimeout time.Duration
	Logger       *slog.Logger
}

// ManualEntry is an invoice typed in by hand
type ManualEntry struct {
	Company       string `json:"company"`
	InvoiceNumber string `json:"invoice_number"`
	InvoiceDate   string `json:"invoice_date"`
	DueDate       string `json:"due_date"`
	TotalAmount   Number `json:"total_amount"`
}

// Service runs the extraction pipeline and the invoice operations around it
type Service struct {
	store          Store
	normalizer     Normalizer
	scanner        scanning.Scanner
	extractTimeout time.Duration
	storeTimeout   time.Duration
	logger         *slog.Logger
}

// NewService creates a new Service
func NewService(store Store, normalizer Normalizer, scanner scanning.Scanner, opts ServiceOptions) *Service {
	if opts.ExtractTimeout <= 0 {
		opts.ExtractTimeout = defaultExtractTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		store:          store,
		normalizer:     normalizer,
		scanner:        scanner,
		extractTimeout: opts.ExtractTimeout,
		storeTimeout:   opts.StoreTimeout,
		logger:         opts.Logger,
	}
}

// ExtractInvoice normalizes, extracts, parses and stores one document, in that order.
// Nothing is written unless every earlier stage succeeded.
func (s *Service) ExtractInvoice(ctx context.Context, up Upload) (*Invoice, error) {
	log := s.logger.With(
		"filename", up.Filename,
		"content_type", up.ContentType,
		"size", len(up.Data),
	)

	fail := func(stage Stage, kind error, details any, err error) (*Invoice, error) {
		var stageErr *StageError
		if !errors.As(err, &stageErr) {
			stageErr = &StageError{Stage: stage, Kind: kind, Details: details, Err: err}
		}
		log.Error("Invoice extraction failed", "stage", stageErr.Stage, "error", err)
		return nil, stageErr
	}

	if len(up.Data) == 0 {
		return nil, invalidInput(nil, "no file was uploaded")
	}

	log.Debug("Normalizing document")
	img, err := s.normalizer.Normalize(ctx, up.Data, up.ContentType)
	if err != nil {
		if errors.Is(err, scanning.ErrUnsupportedDocument) {
			log.Warn("Rejected unsupported document", "error", err)
			return nil, invalidInput(map[string]string{"content_type": up.ContentType}, "%w", err)
		}
		return fail(StageNormalizing, ErrConversion, nil, err)
	}

	log.Debug("Extracting invoice", "image_type", img.MIMEType, "image_size", len(img.Data))
	text, err := s.extract(ctx, img)
	if err != nil {
		return fail(StageExtracting, ErrExtraction, providerDetails(err), err)
	}

	log.Debug("Parsing extracted invoice", "length", len(text))
	inv, err := ParseInvoice(text)
	if err != nil {
		return fail(StageParsing, ErrParse, text, err)
	}

	log.Debug("Storing invoice")
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	created, err := s.store.Create(storeCtx, inv)
	if err != nil {
		return fail(StageStoring, ErrStore, nil, err)
	}

	log.Info("Invoice extracted", "id", created.ID)
	return created, nil
}

func (s *Service) extract(ctx context.Context, img scanning.Image) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.extractTimeout)
	defer cancel()
	return s.scanner.Extract(ctx, img)
}

// providerDetails exposes what the provider said about a failed call
func providerDetails(err error) any {
	var providerErr *scanning.ProviderError
	if !errors.As(err, &providerErr) {
		return nil
	}
	details := map[string]any{"provider": providerErr.Provider}
	if providerErr.StatusCode != 0 {
		details["status"] = providerErr.StatusCode
	}
	if providerErr.Body != "" {
		details["body"] = providerErr.Body
	}
	return details
}

// GetInvoice retrieves an invoice by ID
func (s *Service) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.Get(ctx, id)
}

// ListInvoices returns all invoices, newest first
func (s *Service) ListInvoices(ctx context.Context) ([]*Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.List(ctx)
}

// UpdateInvoice replaces the top-level fields present in body
func (s *Service) UpdateInvoice(ctx context.Context, id string, body []byte) (*Invoice, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ValidateUpdate(body); err != nil {
		return nil, err
	}

	var patch Patch
	if err := json.Unmarshal(body, &patch); err != nil {
		return nil, invalidInput(nil, "decoding update: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	updated, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Invoice updated", "id", id, "fields", len(patch))
	return updated, nil
}

// DeleteInvoice removes an invoice
func (s *Service) DeleteInvoice(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Invoice deleted", "id", id)
	return nil
}

// CreateManualInvoice stores an invoice typed in by hand, without extraction
func (s *Service) CreateManualInvoice(ctx context.Context, body []byte) (*Invoice, error) {
	if err := ValidateManualEntry(body); err != nil {
		return nil, err
	}

	var entry ManualEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, invalidInput(nil, "decoding manual entry: %w", err)
	}

	total := entry.TotalAmount
	inv := &Invoice{
		VendorDetails: &Party{Name: String(entry.Company)},
		InvoiceNumber: String(entry.InvoiceNumber),
		InvoiceDate:   String(entry.InvoiceDate),
		DueDate:       String(entry.DueDate),
		TotalAmount:   &total,
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	created, err := s.store.Create(ctx, inv)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Invoice entered manually", "id", created.ID)
	return created, nil
}

// ExportInvoices writes every invoice to w as an XLSX workbook
func (s *Service) ExportInvoices(ctx context.Context, w io.Writer) error {
	invoices, err := s.ListInvoices(ctx)
	if err != nil {
		return err
	}
	if err := WriteWorkbook(w, invoices); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

// Ping checks the store
func (s *Service) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.Ping(ctx)
}
