package record

import (
	"bufio"
	"io"
)

// Writer writes whole records to an underlying stream and flushes after
// each one, so a record-framed pipe never sits with bytes held in a
// userspace buffer while the other end waits for them.
type Writer struct {
	bw *bufio.Writer
}

// NewWriter wraps dst for record-at-a-time writing.
func NewWriter(dst io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriterSize(dst, chunkSize)}
}

// Write emits rec in full and flushes the underlying stream.
func (w *Writer) Write(rec Record) error {
	if _, err := w.bw.Write(rec); err != nil {
		return err
	}
	return w.bw.Flush()
}
