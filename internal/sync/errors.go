package sync

import (
	"errors"
	"fmt"

	"github.com/brunopatuleia/tootkeeper/internal/models"
)

// ErrNotConfigured is returned when a pass starts before an account
// has been linked. Not a fault: the scheduler stays healthy and the
// next pass retries.
var ErrNotConfigured = errors.New("mastodon account not configured")

// FetchError is a transient remote failure (network, rate limit). It
// aborts the affected kind only; the cursor stays put and the next
// scheduled pass retries.
type FetchError struct {
	Kind models.Kind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StoreError is a persistence failure. It aborts the whole pass
// without cursor mutation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable remote fetch failure.
func IsTransient(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsPersistence reports whether err is an archive store failure.
func IsPersistence(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
