package ai

import (
	"errors"
	"fmt"
)

var (
	ErrEmbeddingProvider  = errors.New("embedding provider error")
	ErrGenerationProvider = errors.New("generation provider error")
)

// providerError wraps a sentinel with HTTP-level detail and a
// transient/permanent classification consulted by the retry path.
type providerError struct {
	kind      error
	status    int
	transient bool
	cause     error
	detail    string
}

func (e *providerError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.kind.Error(), e.cause)
	}
	if e.status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.kind.Error(), e.status, e.detail)
	}
	return fmt.Sprintf("%s: %s", e.kind.Error(), e.detail)
}

func (e *providerError) Unwrap() error { return e.kind }

func (e *providerError) Transient() bool { return e.transient }

// IsTransient reports whether err is a failure worth retrying (network
// errors, timeouts, rate limits, server-side failures). Any error in the
// chain may carry the classification.
func IsTransient(err error) bool {
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}

func newHTTPError(kind error, status int, body string) error {
	return &providerError{
		kind:      kind,
		status:    status,
		transient: status == 408 || status == 429 || status >= 500,
		detail:    body,
	}
}

func newTransportError(kind error, cause error) error {
	return &providerError{kind: kind, transient: true, cause: cause}
}

func newPermanentError(kind error, detail string) error {
	return &providerError{kind: kind, detail: detail}
}
