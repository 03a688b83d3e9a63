package scanning

import (
	"fmt"
	"os"
)

// Scratch hands out uniquely named temporary files for document conversion
type Scratch struct {
	basePath string
}

// NewScratch creates a new Scratch rooted at basePath, or the system temp directory when empty
func NewScratch(basePath string) (*Scratch, error) {
	if basePath == "" {
		basePath = os.TempDir()
	}

	// Create directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	return &Scratch{
		basePath: basePath,
	}, nil
}

// Dir returns the directory scratch files are created in
func (s *Scratch) Dir() string {
	return s.basePath
}

// Write stores data in a new file named prefix_<random><ext> and returns its path.
// The file is removed again if writing fails.
func (s *Scratch) Write(prefix, ext string, data []byte) (string, error) {
	f, err := os.CreateTemp(s.basePath, prefix+"_*"+ext)
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	path := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	return path, nil
}

// Remove deletes a scratch file; a file that is already gone is not an error
func (s *Scratch) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting temp file: %w", err)
	}
	return nil
}
