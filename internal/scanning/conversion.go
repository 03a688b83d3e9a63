package scanning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"mime"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const (
	pdfMIMEType  = "application/pdf"
	jpegMIMEType = "image/jpeg"

	defaultDPI          = 150
	defaultMaxDimension = 2400
	defaultJPEGQuality  = 90
)

// rasterMIMETypes are the image formats passed through unchanged
var rasterMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	"image/tiff": true,
}

// ErrUnsupportedDocument is returned for uploads that are neither a PDF nor a raster image
var ErrUnsupportedDocument = errors.New("unsupported document type")

// NormalizerOptions configures how documents are rasterized
type NormalizerOptions struct {
	// TempDir holds the temporary PDF copies handed to the renderer; empty means the OS default
	TempDir string
	// DPI is the resolution PDF pages are rendered at
	DPI float64
	// MaxDimension bounds the width and height of rendered pages
	MaxDimension int
	// JPEGQuality is used when a page or HEIC photo is re-encoded
	JPEGQuality int
	Logger      *slog.Logger
}

// Normalizer turns an uploaded document into a single image a provider can read.
// Only the first page of a PDF is rendered; later pages are dropped.
type Normalizer struct {
	scratch      *Scratch
	dpi          float64
	maxDimension int
	quality      int
	logger       *slog.Logger
}

// NewNormalizer creates a new Normalizer
func NewNormalizer(opts NormalizerOptions) (*Normalizer, error) {
	scratch, err := NewScratch(opts.TempDir)
	if err != nil {
		return nil, err
	}
	if opts.DPI <= 0 {
		opts.DPI = defaultDPI
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = defaultMaxDimension
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = defaultJPEGQuality
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Normalizer{
		scratch:      scratch,
		dpi:          opts.DPI,
		maxDimension: opts.MaxDimension,
		quality:      opts.JPEGQuality,
		logger:       opts.Logger,
	}, nil
}

// Normalize returns the image to send for extraction. Raster images are returned unchanged,
// except HEIC/HEIF photos which are re-encoded as JPEG. PDFs are rendered from page one.
func (n *Normalizer) Normalize(ctx context.Context, data []byte, contentType string) (Image, error) {
	if len(data) == 0 {
		return Image{}, errors.New("empty document")
	}
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}

	kind := DetectContentType(data, contentType)
	switch {
	case kind == pdfMIMEType:
		return n.renderFirstPage(ctx, data)
	case isHEICMimeType(kind):
		return n.convertHEIC(data)
	case rasterMIMETypes[kind]:
		return Image{Data: data, MIMEType: kind}, nil
	default:
		return Image{}, fmt.Errorf("%w: %s", ErrUnsupportedDocument, kind)
	}
}

// DetectContentType works out what an upload really is. The sniffed type wins when it
// recognises a PDF or an image; otherwise the declared type is used.
func DetectContentType(data []byte, declared string) string {
	declared = normalizeMIMEType(declared)

	sniffed := mimetype.Detect(data)
	switch {
	case sniffed.Is(pdfMIMEType):
		return pdfMIMEType
	case strings.HasPrefix(sniffed.String(), "image/"):
		return normalizeMIMEType(sniffed.String())
	}

	if declared == "" {
		return normalizeMIMEType(sniffed.String())
	}
	return declared
}

func normalizeMIMEType(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	return contentType
}

// renderFirstPage writes the PDF to a scratch file, renders page one and encodes it as JPEG.
// The scratch file is removed on every path out of this function.
func (n *Normalizer) renderFirstPage(ctx context.Context, pdfData []byte) (Image, error) {
	path, err := n.scratch.Write("upload", ".pdf", pdfData)
	if err != nil {
		return Image{}, err
	}
	defer func() {
		if err := n.scratch.Remove(path); err != nil {
			n.logger.Warn("Failed to remove temp file", "path", path, "error", err)
		}
	}()

	doc, err := fitz.New(path)
	if err != nil {
		return Image{}, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages < 1 {
		return Image{}, errors.New("PDF has no pages")
	}
	if pages > 1 {
		n.logger.Debug("Rendering first page only", "pages", pages)
	}
	if err := ctx.Err(); err != nil {
		return Image{}, err
	}

	img, err := doc.ImageDPI(0, n.dpi)
	if err != nil {
		return Image{}, fmt.Errorf("rendering PDF page: %w", err)
	}

	return n.encodeJPEG(img)
}

func (n *Normalizer) convertHEIC(data []byte) (Image, error) {
	img, err := heic.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
	}
	return n.encodeJPEG(img)
}

func (n *Normalizer) encodeJPEG(img image.Image) (Image, error) {
	bounds := img.Bounds()
	if bounds.Dx() > n.maxDimension || bounds.Dy() > n.maxDimension {
		img = imaging.Fit(img, n.maxDimension, n.maxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(n.quality)); err != nil {
		return Image{}, fmt.Errorf("encoding JPEG: %w", err)
	}
	return Image{Data: buf.Bytes(), MIMEType: jpegMIMEType}, nil
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
