package binder

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes carried on error receipts. Receipts are the sole
// authoritative failure signal; these codes are data, not panics.
const (
	CodeSchemaViolation   = "SCHEMA_VIOLATION"
	CodePolicyViolation   = "POLICY_VIOLATION"
	CodeUnknownReference  = "UNKNOWN_REFERENCE"
	CodeValidationFailure = "VALIDATION_FAILURE"
)

// BindError is a coded failure from applying one plan op.
type BindError struct {
	Code   string
	Reason string
}

func (e *BindError) Error() string {
	return e.Code + ": " + e.Reason
}

func schemaf(format string, args ...any) *BindError {
	return &BindError{Code: CodeSchemaViolation, Reason: fmt.Sprintf(format, args...)}
}

func policyf(format string, args ...any) *BindError {
	return &BindError{Code: CodePolicyViolation, Reason: fmt.Sprintf(format, args...)}
}

func unknownf(format string, args ...any) *BindError {
	return &BindError{Code: CodeUnknownReference, Reason: fmt.Sprintf(format, args...)}
}

func validationf(format string, args ...any) *BindError {
	return &BindError{Code: CodeValidationFailure, Reason: fmt.Sprintf(format, args...)}
}

// ErrCode extracts the receipt code for an arbitrary error. Non-coded
// errors (catalog resolution, lattice schema failures) are classified by
// their message prefix, falling back to SCHEMA_VIOLATION.
func ErrCode(err error) string {
	var be *BindError
	if errors.As(err, &be) {
		return be.Code
	}
	msg := err.Error()
	for _, code := range []string{CodeUnknownReference, CodePolicyViolation, CodeValidationFailure, CodeSchemaViolation} {
		if strings.HasPrefix(msg, code) {
			return code
		}
	}
	return CodeSchemaViolation
}
