package mcpserver

import (
	"context"
	"errors"
	"fmt"

	echoerrors "github.com/echovault-sync/echovault/internal/errors"
)

// MCP error codes, JSON-RPC's -32000..-32099 "server error" range plus the
// standard codes any MCP client already understands.
const (
	ErrCodeResourceNotFound = -32001
	ErrCodeSearchFailed     = -32002
	ErrCodeTimeout          = -32003
	ErrCodeInvalidParams    = -32602
	ErrCodeInternalError    = -32603
)

// MCPError is a structured MCP tool-call error.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// NewInvalidParamsError builds an MCPError for a malformed tool argument.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewResourceNotFoundError builds an MCPError for an unknown session id.
func NewResourceNotFoundError(sessionID string) *MCPError {
	return &MCPError{Code: ErrCodeResourceNotFound, Message: fmt.Sprintf("session %q not found", sessionID)}
}

// NewInternalError builds a generic internal MCPError.
func NewInternalError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInternalError, Message: msg}
}

// MapError converts an arbitrary error (possibly an *echoerrors.VaultError
// from a lower layer) into an MCPError, the shape the tool handlers return.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var vaultErr *echoerrors.VaultError
	if errors.As(err, &vaultErr) {
		return mapVaultError(vaultErr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "request timed out"}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: err.Error()}
	}
}

func mapVaultError(ve *echoerrors.VaultError) *MCPError {
	switch ve.Category {
	case echoerrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: ve.Message}
	case echoerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: ve.Message}
	case echoerrors.CategoryAuth:
		return &MCPError{Code: ErrCodeSearchFailed, Message: ve.Message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: ve.Message}
	}
}
