// Package handle owns the NUL-terminated identifier buffers handed across the
// engine boundary. A Handle has exactly one owner and is released exactly once.
package handle

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

// ErrEncoding is returned when a string cannot be represented as an engine string.
var ErrEncoding = errors.New("identifier cannot be encoded as a native string")

// UseAfterReleaseError is the panic value raised when a Handle, or a resource that owns
// one, is used after it has been released.
type UseAfterReleaseError struct {
	Resource string
	ID       string
}

func (e *UseAfterReleaseError) Error() string {
	return fmt.Sprintf("%s %q used after release", e.Resource, e.ID)
}

// Handle is an owned, NUL-terminated copy of an identifier.
type Handle struct {
	text     string
	buf      []byte
	released atomic.Bool
	cleanup  runtime.Cleanup
}

// Acquire copies text into a new NUL-terminated buffer owned by the caller.
func Acquire(text string) (*Handle, error) {
	if strings.IndexByte(text, 0) >= 0 {
		return nil, fmt.Errorf("%w: embedded NUL in %q", ErrEncoding, text)
	}
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: invalid UTF-8 in %q", ErrEncoding, text)
	}

	buf := make([]byte, len(text)+1)
	copy(buf, text)

	h := &Handle{text: text, buf: buf}
	h.cleanup = runtime.AddCleanup(h, func(id string) {
		slog.Warn("handle garbage collected without release", "id", id)
	}, text)
	return h, nil
}

// String returns the identifier.
func (h *Handle) String() string {
	h.mustBeLive()
	return h.text
}

// Bytes returns the NUL-terminated buffer. Callers must not modify or retain it past
// the owner's Release.
func (h *Handle) Bytes() []byte {
	h.mustBeLive()
	return h.buf
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	return h.released.Load()
}

// Release frees the buffer. Releasing twice panics with *UseAfterReleaseError.
func (h *Handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		panic(&UseAfterReleaseError{Resource: "handle", ID: h.text})
	}
	h.cleanup.Stop()
	clear(h.buf)
	h.buf = nil
}

func (h *Handle) mustBeLive() {
	if h.released.Load() {
		panic(&UseAfterReleaseError{Resource: "handle", ID: h.text})
	}
}
