package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

// Client talks to the invoice-tracker HTTP API
type Client struct {
	url  string
	http *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// New creates a Client for the server at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		url:  strings.TrimRight(baseURL, "/"),
		http: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is a failure envelope returned by the server
type APIError struct {
	StatusCode int
	Message    string
	Details    json.RawMessage
}

func (e *APIError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%d: %s: %s", e.StatusCode, e.Message, e.Details)
}

type failure struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

type invoiceEnvelope struct {
	Invoice *invoice.Invoice `json:"invoice"`
}

type listEnvelope struct {
	Count    int                `json:"count"`
	Invoices []*invoice.Invoice `json:"invoices"`
}

// Health reports whether the server is up and which version it runs
func (c *Client) Health(ctx context.Context) (*invoice.HealthResponse, error) {
	var out invoice.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Extract uploads a document and returns the invoice stored from it
func (c *Client) Extract(ctx context.Context, filename string, r io.Reader) (*invoice.Invoice, error) {
	var data bytes.Buffer
	w := multipart.NewWriter(&data)

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filepath.Base(filename))))
	header.Set("Content-Type", contentType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	var out invoiceEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/extract-invoice", &data, w.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return out.Invoice, nil
}

// List returns every stored invoice, newest first
func (c *Client) List(ctx context.Context) ([]*invoice.Invoice, error) {
	var out listEnvelope
	if err := c.do(ctx, http.MethodGet, "/api/invoices", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Invoices, nil
}

// Get returns the invoice with the given id
func (c *Client) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	var out invoiceEnvelope
	if err := c.do(ctx, http.MethodGet, invoicePath(id), nil, "", &out); err != nil {
		return nil, err
	}
	return out.Invoice, nil
}

// Update replaces the given top-level fields. A nil value clears the field.
func (c *Client) Update(ctx context.Context, id string, fields map[string]any) (*invoice.Invoice, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding update: %w", err)
	}

	var out invoiceEnvelope
	if err := c.do(ctx, http.MethodPut, invoicePath(id), bytes.NewReader(body), "application/json", &out); err != nil {
		return nil, err
	}
	return out.Invoice, nil
}

// Create stores an invoice typed in by hand
func (c *Client) Create(ctx context.Context, entry invoice.ManualEntry) (*invoice.Invoice, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encoding invoice: %w", err)
	}

	var out invoiceEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/invoices", bytes.NewReader(body), "application/json", &out); err != nil {
		return nil, err
	}
	return out.Invoice, nil
}

// Delete removes the invoice with the given id
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, invoicePath(id), nil, "", nil)
}

// Export writes the XLSX workbook of every invoice to w
func (c *Client) Export(ctx context.Context, w io.Writer) error {
	resp, err := c.send(ctx, http.MethodGet, "/api/invoices/export", nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readFailure(resp)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("downloading export: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	resp, err := c.send(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readFailure(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func readFailure(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiErr
	}

	var f failure
	if json.Unmarshal(data, &f) == nil && f.Error != "" {
		apiErr.Message = f.Error
		apiErr.Details = f.Details
	}
	return apiErr
}

func invoicePath(id string) string {
	return "/api/invoices/" + url.PathEscape(id)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
