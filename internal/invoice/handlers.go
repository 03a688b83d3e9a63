package invoice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zombor/invoice-tracker/internal/scanning"
)

const healthTimeFormat = "2006-01-02T15:04:05.000Z07:00"

var dataURIPrefix = regexp.MustCompile(`^data:([\w.+-]+/[\w.+-]+)(;[^,;]+)*;base64,`)

var errNoUpload = errors.New("no image data provided. Please upload a file or send a base64 string")

type failureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

type invoiceResponse struct {
	Success bool     `json:"success"`
	Invoice *Invoice `json:"invoice"`
}

type listResponse struct {
	Success  bool       `json:"success"`
	Count    int        `json:"count"`
	Invoices []*Invoice `json:"invoices"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

type stageDetails struct {
	Stage Stage  `json:"stage"`
	Cause string `json:"cause,omitempty"`
	Data  any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func writeFailure(w http.ResponseWriter, code int, message string, details any) {
	writeJSON(w, code, failureResponse{Success: false, Error: message, Details: details})
}

// writeError maps an error from the service to a status code and failure body
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, message, details := describeError(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", r.URL.Path, "status", code, "error", err)
	} else {
		s.logger.Warn("Request rejected", "path", r.URL.Path, "status", code, "error", err)
	}
	writeFailure(w, code, message, details)
}

func describeError(err error) (int, string, any) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		details := stageDetails{Stage: stageErr.Stage, Data: stageErr.Details}
		if stageErr.Err != nil {
			details.Cause = stageErr.Err.Error()
		}
		switch {
		case errors.Is(err, ErrConversion):
			return http.StatusInternalServerError, "Failed to convert document to image", details
		case errors.Is(err, ErrExtraction):
			return http.StatusInternalServerError, "Failed to extract invoice data", details
		case errors.Is(err, ErrParse):
			return http.StatusInternalServerError, "Failed to parse extracted invoice data", details
		default:
			return http.StatusInternalServerError, "Server error processing invoice", details
		}
	}

	var inputErr *InputError
	switch {
	case errors.Is(err, errNoUpload):
		return http.StatusBadRequest, "No image data provided. Please upload a file or send a base64 string.", nil
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "File is too large", err.Error()
	case errors.As(err, &inputErr):
		details := inputErr.Details
		if details == nil {
			details = inputErr.Err.Error()
		}
		return http.StatusBadRequest, "Invalid request", details
	case errors.Is(err, ErrInvalidIdentifier):
		return http.StatusBadRequest, "Invalid invoice ID format", nil
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "Invoice not found", nil
	case errors.Is(err, ErrStore):
		return http.StatusInternalServerError, "Database error", err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error", nil
	}
}

// handleHealth reports that the server is up
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "OK",
		Timestamp: s.now().UTC().Format(healthTimeFormat),
		Version:   s.version,
	})
}

// handleExtractInvoice runs the extraction pipeline on an uploaded document
func (s *Server) handleExtractInvoice(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// a caller that disconnects mid-extraction still gets at most one stored record
	ctx := context.WithoutCancel(r.Context())

	inv, err := s.service.ExtractInvoice(ctx, up)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceResponse{Success: true, Invoice: inv})
}

// readUpload reads a multipart file field or a JSON body holding a base64 data URI
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return s.readMultipartUpload(r)
	case "application/json", "":
		return readBase64Upload(r)
	default:
		return Upload{}, invalidInput(nil, "unsupported request content type %q", mediaType)
	}
}

func (s *Server) readMultipartUpload(r *http.Request) (Upload, error) {
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		return Upload{}, bodyError(err, "parsing multipart form")
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return Upload{}, invalidInput(nil, "%w", errNoUpload)
		}
		return Upload{}, bodyError(err, "reading file field")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return Upload{}, bodyError(err, "reading file")
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFromFilename(header.Filename)
	}

	return Upload{
		Filename:    header.Filename,
		ContentType: scanning.DetectContentType(data, contentType),
		Data:        data,
	}, nil
}

func readBase64Upload(r *http.Request) (Upload, error) {
	var body struct {
		ImageBase64 string `json:"imageBase64"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return Upload{}, invalidInput(nil, "%w", errNoUpload)
		}
		return Upload{}, bodyError(err, "decoding body")
	}
	if body.ImageBase64 == "" {
		return Upload{}, invalidInput(nil, "%w", errNoUpload)
	}

	encoded := body.ImageBase64
	declared := ""
	if m := dataURIPrefix.FindStringSubmatch(encoded); m != nil {
		declared = m[1]
		encoded = encoded[len(m[0]):]
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return Upload{}, invalidInput(nil, "imageBase64 is not valid base64: %w", err)
	}

	return Upload{
		Filename:    "upload",
		ContentType: scanning.DetectContentType(data, declared),
		Data:        data,
	}, nil
}

// bodyError reports oversized bodies as ErrTooLarge and everything else as bad input
func bodyError(err error, action string) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
		return errors.Join(ErrTooLarge, err)
	}
	return invalidInput(nil, "%s: %w", action, err)
}

// contentTypeFromFilename guesses a content type from common upload extensions
func contentTypeFromFilename(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleListInvoices returns all invoices, newest first
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.service.ListInvoices(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, Count: len(invoices), Invoices: invoices})
}

// handleCreateInvoice stores a manually entered invoice
func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	inv, err := s.service.CreateManualInvoice(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoiceResponse{Success: true, Invoice: inv})
}

// handleExportInvoices downloads all invoices as a workbook
func (s *Server) handleExportInvoices(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.service.ExportInvoices(r.Context(), &buf); err != nil {
		s.writeError(w, r, err)
		return
	}

	filename := "invoices-" + s.now().UTC().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Error("Error writing export", "error", err)
	}
}

// handleGetInvoice returns a single invoice
func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceResponse{Success: true, Invoice: inv})
}

// handleUpdateInvoice replaces the fields present in the body
func (s *Server) handleUpdateInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := ValidateID(id); err != nil {
		s.writeError(w, r, err)
		return
	}

	body, err := s.readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	inv, err := s.service.UpdateInvoice(r.Context(), id, body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoiceResponse{Success: true, Invoice: inv})
}

// handleDeleteInvoice removes an invoice
func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteInvoice(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Invoice deleted successfully"})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		return nil, bodyError(err, "reading body")
	}
	return body, nil
}
