package provision

import (
	"errors"
	"fmt"
)

// Code classifies a stage failure. Every failure surfaced by a provisioning
// run carries exactly one code.
type Code string

const (
	CodeAuthorizationDenied       Code = "authorization_denied"
	CodeAuthorizationError        Code = "authorization_error"
	CodeRepositoryCreationFailed  Code = "repository_creation_failed"
	CodeStorageProvisioningFailed Code = "storage_provisioning_failed"
	CodeConfigFetchFailed         Code = "config_fetch_failed"
	CodeConfigUpdateConflict      Code = "config_update_conflict"
	CodeConfigUpdateFailed        Code = "config_update_failed"
	CodeTemplateNotFound          Code = "template_not_found"
	CodeTemplateListFailed        Code = "template_list_failed"
	CodeTemplateCopyFailed        Code = "template_copy_failed"
	CodeMalformedResponse         Code = "malformed_response"
	CodeStageTimeout              Code = "stage_timeout"
)

// StageError is a classified failure from one provisioning stage. It wraps
// the underlying cause so callers can use errors.Is/errors.As.
type StageError struct {
	Code    Code
	Message string
	Err     error
}

func (e *StageError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *StageError) Unwrap() error { return e.Err }

// Errf builds a StageError with a formatted message.
func Errf(code Code, format string, args ...any) *StageError {
	return &StageError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. A nil err yields a bare StageError.
func Wrap(code Code, err error) *StageError {
	return &StageError{Code: code, Err: err}
}

// CodeOf extracts the classification from an error chain. It returns the
// empty Code when the chain carries no StageError.
func CodeOf(err error) Code {
	var se *StageError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
