package layer

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes iterator errors.
type ErrorCode string

const (
	// CodeDanglingJoin indicates a join refers to a dataset that is not
	// registered.
	CodeDanglingJoin ErrorCode = "DANGLING_JOIN"

	// CodeUnknownField indicates a join or target field does not exist.
	CodeUnknownField ErrorCode = "UNKNOWN_FIELD"

	// CodeProviderFailure indicates the backing store failed.
	CodeProviderFailure ErrorCode = "PROVIDER_FAILURE"

	// CodeExpressionInvalid indicates a filter expression did not compile.
	CodeExpressionInvalid ErrorCode = "EXPRESSION_INVALID"
)

// IteratorError is reported by FeatureIterator.Err.
type IteratorError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Dataset is the id of the layer being iterated.
	Dataset string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *IteratorError) Error() string {
	msg := fmt.Sprintf("%s: %s (dataset=%s)", e.Code, e.Message, e.Dataset)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *IteratorError) Unwrap() error { return e.Err }

// IsDanglingJoin returns true if err is a dangling join error.
// Uses errors.As to handle wrapped errors.
func IsDanglingJoin(err error) bool {
	return hasCode(err, CodeDanglingJoin)
}

// IsUnknownField returns true if err names a missing join or target field.
func IsUnknownField(err error) bool {
	return hasCode(err, CodeUnknownField)
}

// IsProviderFailure returns true if err is a backing store failure.
func IsProviderFailure(err error) bool {
	return hasCode(err, CodeProviderFailure)
}

// IsExpressionInvalid returns true if err is an expression compile error.
func IsExpressionInvalid(err error) bool {
	return hasCode(err, CodeExpressionInvalid)
}

func hasCode(err error, code ErrorCode) bool {
	var ie *IteratorError
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	return false
}

// ErrJoinCycle is returned by AddJoin when the join would make a dataset
// depend on itself.
var ErrJoinCycle = errors.New("layer: cyclic join")

// ErrDuplicateLayer is returned by Registry.Register for a duplicate id.
var ErrDuplicateLayer = errors.New("layer: duplicate dataset id")

// ErrNoSubsetFilter is returned when the provider has no subset filter.
var ErrNoSubsetFilter = errors.New("layer: provider does not support subset filters")
