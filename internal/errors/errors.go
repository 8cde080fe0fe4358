// Package errors defines stable error codes for all harness failure modes.
package errors

import (
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ToolchainMissing indicates the compiler binary was not found
	ToolchainMissing ErrorCode = "TOOLCHAIN_MISSING"
	// SpawnFailed indicates the compiler process could not be started
	SpawnFailed ErrorCode = "SPAWN_FAILED"
	// ScratchFailed indicates the scratch directory could not be created
	ScratchFailed ErrorCode = "SCRATCH_FAILED"
	// LedgerWriteFailed indicates progress could not be persisted; fatal to a sweep
	LedgerWriteFailed ErrorCode = "LEDGER_WRITE_FAILED"
	// ArchiveFailed indicates an ICE report could not be saved
	ArchiveFailed ErrorCode = "ARCHIVE_FAILED"
	// MergeFailed indicates a coverage merge invocation failed
	MergeFailed ErrorCode = "MERGE_FAILED"
	// ParseFailed indicates source code could not be parsed into a syntax tree
	ParseFailed ErrorCode = "PARSE_FAILED"
	// ConfigInvalid indicates the configuration failed validation
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// HistoryUnavailable indicates the run-history database could not be opened
	HistoryUnavailable ErrorCode = "HISTORY_UNAVAILABLE"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Command     string `json:"command,omitempty"`
	Description string `json:"description,omitempty"`
}

// HarnessError represents a harness error with code and message
type HarnessError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error       // Underlying error (not exported to JSON)
}

// New creates a new HarnessError
func New(code ErrorCode, message string, cause error) *HarnessError {
	return &HarnessError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Error implements the error interface
func (e *HarnessError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *HarnessError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *HarnessError) WithDetails(details interface{}) *HarnessError {
	e.Details = details
	return e
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	ToolchainMissing: {
		{
			Command:     "rustup toolchain install nightly",
			Description: "Install a nightly toolchain, or point toolchains.toml at a local stage1 build",
		},
	},
	HistoryUnavailable: {
		{
			Command:     "icehunt sweep --no-history",
			Description: "Run the sweep without recording run history",
		},
	},
	ConfigInvalid: {
		{
			Command:     "icehunt init --force",
			Description: "Regenerate a default configuration file",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
