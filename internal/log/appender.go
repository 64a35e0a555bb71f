package log

import (
	"errors"
	"io"
	"os"
)

// MultiWriter fans a log line out to every output. Unlike io.MultiWriter a
// failing output does not starve the ones after it.
type MultiWriter struct {
	writers []io.Writer
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{writers: make([]io.Writer, 0, 3)}
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.writers = append(m.writers, writer)
	return m
}

func (m *MultiWriter) Write(p []byte) (n int, err error) {
	for _, w := range m.writers {
		if _, e := w.Write(p); e != nil {
			err = e
		}
	}
	return len(p), err
}

// Close closes every output except the standard streams.
func (m *MultiWriter) Close() error {
	var errs []error
	for _, w := range m.writers {
		if w == os.Stdout || w == os.Stderr {
			continue
		}
		if c, ok := w.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
