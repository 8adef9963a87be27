package store

import "fmt"

// ErrorCode classifies a store failure the way consensus.ErrorCode
// classifies a wire/validation failure in the teacher: a short
// machine-stable tag plus a free-form message (spec.md §7).
type ErrorCode string

const (
	ErrWriteTimeout   ErrorCode = "WRITE_TIMEOUT"   // transient
	ErrWriteRejected  ErrorCode = "WRITE_REJECTED"  // fatal: schema mismatch, oversized row
	ErrUnavailable    ErrorCode = "UNAVAILABLE"     // transient
	ErrNotInitialized ErrorCode = "NOT_INITIALIZED" // keyspace never bootstrapped
)

// StoreError is a typed store-layer error, matching consensus.TxError's
// Code+Msg shape.
type StoreError struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *StoreError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *StoreError) Unwrap() error { return e.Err }

func newErr(code ErrorCode, msg string, err error) error {
	return &StoreError{Code: code, Msg: msg, Err: err}
}

// Transient reports whether a store error's kind is safe to retry with
// backoff (spec.md §7: WriteTimeout/Unavailable are transient,
// WriteRejected is fatal).
func Transient(err error) bool {
	se, ok := err.(*StoreError)
	if !ok {
		return false
	}
	return se.Code == ErrWriteTimeout || se.Code == ErrUnavailable
}
