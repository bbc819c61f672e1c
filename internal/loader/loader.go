// Package loader fetches a referenced document and extracts its plain text.
// The locator format is opaque to the rest of the system; this package
// understands S3-style and plain http(s) URLs pointing at PDF objects.
package loader

import (
	"context"
	"errors"
	"fmt"
)

// ErrDocumentUnavailable covers every way a document can fail to become
// text: bad locator, transport failure, unreadable PDF.
var ErrDocumentUnavailable = errors.New("document unavailable")

// loadError wraps the sentinel with a transient/permanent classification
// consulted by retry policies. Malformed locators and unreadable documents
// are permanent; network failures and server-side fetch errors are not.
type loadError struct {
	transient bool
	detail    string
	cause     error
}

func (e *loadError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", ErrDocumentUnavailable.Error(), e.detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", ErrDocumentUnavailable.Error(), e.detail)
}

func (e *loadError) Transient() bool { return e.transient }

func (e *loadError) Unwrap() []error {
	if e.cause != nil {
		return []error{ErrDocumentUnavailable, e.cause}
	}
	return []error{ErrDocumentUnavailable}
}

func permanentLoadError(detail string, cause error) error {
	return &loadError{detail: detail, cause: cause}
}

func transientLoadError(detail string, cause error) error {
	return &loadError{transient: true, detail: detail, cause: cause}
}

// Loader turns a document locator into extracted plain text.
type Loader interface {
	Load(ctx context.Context, locator string) (string, error)
}
