package mail

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// WriterTransport prints messages instead of delivering them. It is meant
// for local development, where the verification code is read off stdout.
type WriterTransport struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterTransport(w io.Writer) *WriterTransport {
	return &WriterTransport{w: w}
}

func (t *WriterTransport) Send(_ context.Context, to, subject, htmlBody string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, "---- mail to=%s subject=%q ----\n%s\n---- end mail ----\n", to, subject, htmlBody)
	return err
}
