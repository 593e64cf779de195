package sheet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"

	"ytsheets/internal/retry"
)

// Sentinel errors for destination writes.
var (
	// ErrWriteRejected means the spreadsheet refused a write.
	ErrWriteRejected = errors.New("sheet: write rejected")
	// ErrCellLimit means the spreadsheet reached its total cell ceiling.
	ErrCellLimit = fmt.Errorf("%w: spreadsheet cell limit reached", ErrWriteRejected)
	// ErrTabNotFound means a tab expected to exist is missing.
	ErrTabNotFound = errors.New("sheet: tab not found")
)

// WriteError reports a failed destination operation.
type WriteError struct {
	Tab string
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("sheet %s %q: %v", e.Op, e.Tab, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsTransient classifies Sheets errors for retry: 429 and 5xx responses
// and network failures.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrWriteRejected) || errors.Is(err, context.Canceled) {
		return false
	}
	return retry.IsRetryable(err)
}

// classify wraps err as a *WriteError, mapping cell-ceiling and permission
// rejections to ErrCellLimit and ErrWriteRejected.
func classify(tab, op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := strings.ToLower(gerr.Message)
		switch {
		case strings.Contains(msg, "above the limit") || strings.Contains(msg, "cell limit"):
			err = fmt.Errorf("%w: %s", ErrCellLimit, gerr.Message)
		case gerr.Code == http.StatusForbidden || gerr.Code == http.StatusUnauthorized:
			err = fmt.Errorf("%w: %s", ErrWriteRejected, gerr.Message)
		}
	}
	return &WriteError{Tab: tab, Op: op, Err: err}
}
