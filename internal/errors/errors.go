// Package errors provides centralized error definitions and error handling utilities
// for browserfleet. It defines the sentinel taxonomy surfaced to front ends, the
// context-carrying error types used by the lifecycle layer, and classification helpers.
//
// # Error Types
//
// Domain-specific errors carry context about where a failure happened:
//   - InstanceError: a launch or stop of one browser instance failed
//   - LaunchError: the stage (spawn, bootstrap, verify) at which a launch failed
//
// Semantic errors represent common error conditions:
//   - ValidationError: a profile field failed validation
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewInstanceError("launch failed", cause).WithInstanceID("1")
//	err := errors.NewLaunchError(errors.StageBootstrap, navErr)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrAlreadyRunning) { ... }
//
//	var launchErr *errors.LaunchError
//	if errors.As(err, &launchErr) { ... }
//
// Mapping errors to the command surface:
//
//	kind := errors.Kind(err) // "AlreadyRunning", "LaunchFailure", ...
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Profile store sentinel errors
var (
	// ErrInvalidConfig indicates that a profile failed validation.
	ErrInvalidConfig = New("invalid profile")
	// ErrDuplicateName indicates that another profile already uses the name.
	ErrDuplicateName = New("profile name already in use")
	// ErrNotFound indicates that a profile could not be found in the store.
	ErrNotFound = New("profile not found")
	// ErrInstanceRunning indicates that a profile cannot be changed while its instance runs.
	ErrInstanceRunning = New("instance is running")
)

// Lifecycle sentinel errors
var (
	// ErrProfileNotFound indicates that a launch referenced an unknown profile.
	ErrProfileNotFound = New("profile not found")
	// ErrAlreadyRunning indicates that an instance already exists for the id.
	ErrAlreadyRunning = New("instance already running")
	// ErrInstanceNotFound indicates that no instance is registered for the id.
	ErrInstanceNotFound = New("instance not found")
	// ErrShuttingDown indicates that launches are rejected during shutdown.
	ErrShuttingDown = New("shutdown in progress")
)

// Browser process sentinel errors
var (
	// ErrExecutableNotFound indicates that no browser executable could be located.
	ErrExecutableNotFound = New("browser executable not found")
	// ErrLaunchFailure indicates that a browser failed to spawn, bootstrap or verify.
	ErrLaunchFailure = New("launch failed")
	// ErrCleanupTimeout indicates that graceful close exceeded its grace period
	// and the process was force-killed.
	ErrCleanupTimeout = New("cleanup timed out")
	// ErrShutdownTimeout indicates that shutting down all instances exceeded its bound.
	ErrShutdownTimeout = New("shutdown timed out")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// FleetError is the base interface for all browserfleet errors.
type FleetError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// InstanceError represents a failed launch or stop of one browser instance.
//
// Example:
//
//	err := errors.NewInstanceError("launch failed", cause)
//	err = err.WithInstanceID("1").WithProfileDir("/data/instances/1")
//	fmt.Println(err) // "instance error [instance=1, dir=/data/instances/1]: launch failed: ..."
type InstanceError struct {
	baseError
	InstanceID string
	ProfileDir string
}

// NewInstanceError creates a new InstanceError.
func NewInstanceError(message string, cause error) *InstanceError {
	return &InstanceError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
	}
}

// WithInstanceID adds an instance ID to the error context.
func (e *InstanceError) WithInstanceID(id string) *InstanceError {
	e.InstanceID = id
	return e
}

// WithProfileDir adds the profile directory to the error context.
func (e *InstanceError) WithProfileDir(dir string) *InstanceError {
	e.ProfileDir = dir
	return e
}

// WithSeverity sets the error severity.
func (e *InstanceError) WithSeverity(s Severity) *InstanceError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *InstanceError) Error() string {
	var parts []string
	if e.InstanceID != "" {
		parts = append(parts, fmt.Sprintf("instance=%s", e.InstanceID))
	}
	if e.ProfileDir != "" {
		parts = append(parts, fmt.Sprintf("dir=%s", e.ProfileDir))
	}

	prefix := "instance error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("instance error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Stage identifies the step of a browser launch that failed.
type Stage string

// Launch stages, in the order they run.
const (
	StageSpawn     Stage = "spawn"
	StageBootstrap Stage = "bootstrap"
	StageVerify    Stage = "verify"
)

// LaunchError reports which launch stage failed. It always matches
// ErrLaunchFailure under errors.Is, in addition to its cause chain.
type LaunchError struct {
	baseError
	Stage Stage
}

// NewLaunchError creates a LaunchError for the given stage.
func NewLaunchError(stage Stage, cause error) *LaunchError {
	return &LaunchError{
		baseError: baseError{
			message:    launchMessage(stage),
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
		Stage: stage,
	}
}

func launchMessage(stage Stage) string {
	switch stage {
	case StageSpawn:
		return "failed to start browser process"
	case StageBootstrap:
		return "bootstrap navigation failed"
	case StageVerify:
		return "post-launch verification failed"
	default:
		return "launch failed"
	}
}

// Is reports whether target is ErrLaunchFailure or matches the cause chain.
func (e *LaunchError) Is(target error) bool {
	return target == ErrLaunchFailure
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents an invalid profile field.
//
// Example:
//
//	err := errors.NewValidationError("must not be empty").WithField("name").WithValue("")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.message)
	}
	return e.message
}

// Is makes every ValidationError match ErrInvalidConfig.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ValidationErrors collects every field problem found for one profile.
type ValidationErrors []*ValidationError

// Error joins the individual problems into one message.
func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// Is makes ValidationErrors match ErrInvalidConfig.
func (v ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// kinds maps each sentinel to the name reported on the command surface.
// ErrNotFound and ErrProfileNotFound share a message but stay distinct here.
var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidConfig, "InvalidConfig"},
	{ErrDuplicateName, "DuplicateName"},
	{ErrNotFound, "NotFound"},
	{ErrInstanceRunning, "InstanceRunning"},
	{ErrProfileNotFound, "ProfileNotFound"},
	{ErrAlreadyRunning, "AlreadyRunning"},
	{ErrInstanceNotFound, "InstanceNotFound"},
	{ErrShuttingDown, "ShuttingDown"},
	{ErrExecutableNotFound, "ExecutableNotFound"},
	{ErrLaunchFailure, "LaunchFailure"},
	{ErrCleanupTimeout, "CleanupTimeout"},
	{ErrShutdownTimeout, "ShutdownTimeout"},
}

// Kind returns the taxonomy name of err, or "Internal" for errors outside
// the taxonomy. A nil error has no kind.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// IsUserFacing returns true if the error message is safe to display to end users.
// Taxonomy sentinels and FleetError values that say so are user-facing.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var fleetErr FleetError
	if As(err, &fleetErr) {
		return fleetErr.IsUserFacing()
	}

	return Kind(err) != "Internal"
}

// GetSeverity returns the severity level of the error. Bare taxonomy
// sentinels are expected outcomes and report SeverityInfo; other errors that
// don't implement FleetError report SeverityError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var fleetErr FleetError
	if As(err, &fleetErr) {
		return fleetErr.Severity()
	}

	if Kind(err) != "Internal" {
		return SeverityInfo
	}
	return SeverityError
}

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to persist profiles")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
