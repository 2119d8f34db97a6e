package report

import (
	"context"
	"io"
)

// NewWriterWithOpener builds a Writer writing through open, for tests
func NewWriterWithOpener(prefix string, open func(ctx context.Context, name string) io.WriteCloser) *Writer {
	return &Writer{prefix: prefix, open: open}
}
