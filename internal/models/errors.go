package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation.
var (
	ErrMissingName         = errors.New("name is required")
	ErrMissingOrganization = errors.New("organization_id is required")
	ErrMissingUser         = errors.New("user_id is required")
	ErrMissingURL          = errors.New("url is required")
	ErrMissingPrompt       = errors.New("prompt is required")
	ErrInvalidID           = errors.New("invalid id")
	ErrInvalidSort         = errors.New("invalid sort")
)

// Sentinel errors for entity lookups.
var (
	ErrNotFound             = errors.New("not found")
	ErrProjectNotFound      = fmt.Errorf("project %w", ErrNotFound)
	ErrTestNotFound         = fmt.Errorf("test %w", ErrNotFound)
	ErrTestSetNotFound      = fmt.Errorf("test set %w", ErrNotFound)
	ErrEndpointNotFound     = fmt.Errorf("endpoint %w", ErrNotFound)
	ErrTestRunNotFound      = fmt.Errorf("test run %w", ErrNotFound)
	ErrTokenNotFound        = fmt.Errorf("token %w", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)
	ErrOrganizationNotFound = fmt.Errorf("organization %w", ErrNotFound)
	ErrTaskNotFound         = fmt.Errorf("task %w", ErrNotFound)
)

// ErrDuplicateKey indicates a unique constraint violation (maps to HTTP 409 Conflict).
var ErrDuplicateKey = errors.New("duplicate key")

// ErrForeignKey indicates a reference to a row that does not exist or is not visible.
var ErrForeignKey = errors.New("referenced row does not exist")

// Sentinels matched by the typed errors below via errors.Is.
var (
	ErrUnauthenticated   = errors.New("authentication required")
	ErrForbidden         = errors.New("forbidden")
	ErrTenantConfig      = errors.New("tenant configuration failed")
	ErrTaskExecution     = errors.New("task execution failed")
	ErrJoinExhausted     = errors.New("join attempts exhausted")
	ErrInvalidTenant     = errors.New("invalid tenant identity")
	ErrTokenRevoked      = errors.New("token revoked")
	ErrTokenExpired      = errors.New("token expired")
	ErrInvalidCredential = errors.New("invalid credential")
)

// ErrFieldTooLong returns an error indicating a field exceeds its maximum length.
func ErrFieldTooLong(field string, maxLen int) error {
	return fmt.Errorf("%s exceeds maximum length of %d", field, maxLen)
}

// AuthenticationError means no valid session or token identified the caller (HTTP 401).
type AuthenticationError struct {
	Reason string
	Err    error // optional cause such as ErrTokenRevoked
}

func (e *AuthenticationError) Error() string {
	if e.Reason == "" {
		return ErrUnauthenticated.Error()
	}

	return ErrUnauthenticated.Error() + ": " + e.Reason
}

// Is matches ErrUnauthenticated.
func (e *AuthenticationError) Is(target error) bool { return target == ErrUnauthenticated }

func (e *AuthenticationError) Unwrap() error { return e.Err }

// AuthorizationError means the caller is known but not allowed to do this (HTTP 403).
type AuthorizationError struct {
	UserID string
	Action string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s is not allowed to %s", e.UserID, e.Action)
}

// Is matches ErrForbidden.
func (e *AuthorizationError) Is(target error) bool { return target == ErrForbidden }

// TenantConfigError reports a failure to apply tenant settings to a database
// session. It is logged and counted, never returned to an HTTP caller.
type TenantConfigError struct {
	Scope string // "session" or "transaction"
	Err   error
}

func (e *TenantConfigError) Error() string {
	return fmt.Sprintf("applying %s tenant settings: %v", e.Scope, e.Err)
}

func (e *TenantConfigError) Unwrap() []error { return []error{ErrTenantConfig, e.Err} }

// TaskExecutionError is recorded on a task that failed its final attempt.
type TaskExecutionError struct {
	TaskID   string
	TaskName string
	Attempts int
	Err      error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s (%s) failed after %d attempt(s): %v", e.TaskName, e.TaskID, e.Attempts, e.Err)
}

func (e *TaskExecutionError) Unwrap() []error { return []error{ErrTaskExecution, e.Err} }

// JoinExhaustedError is recorded when a group's join gave up waiting for members.
type JoinExhaustedError struct {
	GroupID  string
	Attempts int
	Pending  []string
}

func (e *JoinExhaustedError) Error() string {
	return fmt.Sprintf("group %s: %d member(s) still pending after %d join attempt(s)", e.GroupID, len(e.Pending), e.Attempts)
}

// Is matches ErrJoinExhausted.
func (e *JoinExhaustedError) Is(target error) bool { return target == ErrJoinExhausted }

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
