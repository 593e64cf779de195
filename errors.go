package ytsheets

import (
	"ytsheets/cache"
	"ytsheets/filter"
	"ytsheets/internal/retry"
	"ytsheets/internal/storage"
	"ytsheets/pipeline"
	"ytsheets/sheet"
	"ytsheets/youtube"
)

// Error handling types exported for library users.
//
// All error types support the standard error handling patterns:
//
// Using errors.Is() for sentinel errors:
//
//	if errors.Is(err, ytsheets.ErrCellLimit) {
//		fmt.Println("Spreadsheet is full")
//	}
//
// Using errors.As() for wrapped errors:
//
//	var resErr *ytsheets.ResolutionError
//	if errors.As(res.Channels[i].Err(), &resErr) {
//		fmt.Printf("Could not resolve %s: %v\n", resErr.Reference, resErr.Err)
//	}

// Type aliases for convenient error handling.
type (
	// ResolutionError reports a channel reference that could not be resolved.
	ResolutionError = youtube.ResolutionError
	// FetchError reports a failure listing or hydrating a channel's uploads.
	FetchError = youtube.FetchError
	// FilterConfigError reports a malformed filter setting.
	FilterConfigError = filter.ConfigError
	// WriteError reports a failed destination operation.
	WriteError = sheet.WriteError
	// RetryableError wraps errors that occurred after retries were exhausted.
	RetryableError = retry.RetryableError
	// StorageError wraps errors during storage operations.
	StorageError = storage.StorageError
)

// Sentinel errors exported from sub-packages.
var (
	// ErrChannelNotFound indicates the YouTube channel does not exist.
	ErrChannelNotFound = youtube.ErrChannelNotFound
	// ErrInvalidReference indicates a channel reference could not be parsed.
	ErrInvalidReference = youtube.ErrInvalidReference
	// ErrFilterConfig indicates contradictory or malformed filters.
	ErrFilterConfig = filter.ErrFilterConfig
	// ErrWriteRejected indicates the spreadsheet refused a write.
	ErrWriteRejected = sheet.ErrWriteRejected
	// ErrCellLimit indicates the spreadsheet reached its cell ceiling.
	ErrCellLimit = sheet.ErrCellLimit
	// ErrInvalidConfig indicates a run configuration failed validation.
	ErrInvalidConfig = pipeline.ErrInvalidConfig
	// ErrDestinationUnavailable indicates the destination tab could not be prepared.
	ErrDestinationUnavailable = pipeline.ErrDestinationUnavailable

	// ErrNotModified indicates a cached response is still current.
	ErrNotModified = cache.ErrNotModified

	// Storage errors
	// ErrStorageCorrupt indicates data corruption was detected.
	ErrStorageCorrupt = storage.ErrStorageCorrupt
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = storage.ErrLockTimeout
)

// IsRetryable determines if an error should be retried.
// It returns false for permanent errors like ErrChannelNotFound.
func IsRetryable(err error) bool {
	return youtube.IsTransient(err)
}
