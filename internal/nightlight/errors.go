package nightlight

import (
	"errors"
	"fmt"
)

// ErrNotFound signals that the requested record or object does not exist.
var ErrNotFound = errors.New("record not found")

// ValidationError marks malformed job metadata. Jobs failing validation are
// finalized immediately without side effects.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// ExternalServiceError wraps failures of the imagery provider, blob store or
// relational store. The cause is recorded on the job; the scheduler continues.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// DataQualityError marks rasters that cannot produce statistics: unreadable
// payloads or an empty intersection with the area polygon. The message is
// kept descriptive so operators can tell it apart from service outages.
type DataQualityError struct {
	Reason string
	Err    error
}

func (e *DataQualityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data quality: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("data quality: %s", e.Reason)
}

func (e *DataQualityError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a metadata validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDataQuality reports whether err stems from unusable raster data.
func IsDataQuality(err error) bool {
	var dq *DataQualityError
	return errors.As(err, &dq)
}

// IsExternal reports whether err stems from a downstream service outage.
func IsExternal(err error) bool {
	var es *ExternalServiceError
	return errors.As(err, &es)
}
