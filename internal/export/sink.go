package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/saltfish/portfolio-optimizer/internal/domain"
)

// Document is a named, typed payload handed to a download collaborator.
type Document struct {
	Filename string
	MIMEType string
	Content  []byte
}

// NewWeightsDocument wraps the CSV serialization of weights.
func NewWeightsDocument(weights domain.Weights) Document {
	return Document{
		Filename: WeightsFilename,
		MIMEType: CSVMIMEType,
		Content:  []byte(WeightsCSV(weights)),
	}
}

// Sink receives exported documents. Its return value is only used for logging.
type Sink interface {
	Save(ctx context.Context, doc Document) (string, error)
}

// FileSink writes documents into a directory.
type FileSink struct {
	dir    string
	logger *zap.Logger
}

// NewFileSink creates a new FileSink. An empty dir means the working directory.
func NewFileSink(dir string, logger *zap.Logger) *FileSink {
	if dir == "" {
		dir = "."
	}
	return &FileSink{dir: dir, logger: logger}
}

// Save writes doc to <dir>/<doc.Filename> and returns the written path.
func (s *FileSink) Save(ctx context.Context, doc Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if doc.Filename == "" || filepath.Base(doc.Filename) != doc.Filename {
		return "", fmt.Errorf("%w: invalid filename %q", domain.ErrInvalidInput, doc.Filename)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	path := filepath.Join(s.dir, doc.Filename)
	if err := os.WriteFile(path, doc.Content, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	s.logger.Info("Exported document",
		zap.String("path", path),
		zap.String("mime_type", doc.MIMEType),
		zap.Int("size", len(doc.Content)),
	)
	return path, nil
}

var _ Sink = (*FileSink)(nil)
