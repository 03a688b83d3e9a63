package scanning

import "context"

// Image is a single raster image ready to be sent to a model provider
type Image struct {
	Data     []byte
	MIMEType string
}

// Format returns the MIME subtype, e.g. "jpeg" for "image/jpeg"
func (i Image) Format() string {
	for idx := len(i.MIMEType) - 1; idx >= 0; idx-- {
		if i.MIMEType[idx] == '/' {
			return i.MIMEType[idx+1:]
		}
	}
	return i.MIMEType
}

// Scanner defines the interface for invoice extraction providers
type Scanner interface {
	// Extract sends the image with the invoice prompt and returns the raw model output
	Extract(ctx context.Context, img Image) (string, error)
	// Close closes the scanner and releases resources
	Close() error
}
