package errors

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FormatForUser returns a user-friendly error message.
// If debug is true, details and the cause chain are included.
func FormatForUser(err error, debug bool) string {
	if err == nil {
		return ""
	}

	ve, ok := err.(*VaultError)
	if !ok {
		return err.Error()
	}

	var sb strings.Builder
	sb.WriteString("Error: ")
	sb.WriteString(ve.Message)

	if debug {
		if len(ve.Details) > 0 {
			sb.WriteString("\n")
			for _, k := range sortedKeys(ve.Details) {
				sb.WriteString(fmt.Sprintf("  %s: %s\n", k, ve.Details[k]))
			}
		}
		if ve.Cause != nil {
			sb.WriteString(fmt.Sprintf("  cause: %s\n", ve.Cause.Error()))
		}
	}

	sb.WriteString(fmt.Sprintf("\n[%s]", ve.Code))
	return sb.String()
}

// FormatForCLI formats an error for CLI output: a concise message plus
// its code, suitable for a single status line.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ve, ok := err.(*VaultError)
	if !ok {
		ve = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", ve.Message))
	sb.WriteString(fmt.Sprintf("  Code: %s\n", ve.Code))
	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Category  string            `json:"category"`
	Severity  string            `json:"severity"`
	Details   map[string]string `json:"details,omitempty"`
	Cause     string            `json:"cause,omitempty"`
	Retryable bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	ve, ok := err.(*VaultError)
	if !ok {
		ve = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:      ve.Code,
		Message:   ve.Message,
		Category:  string(ve.Category),
		Severity:  string(ve.Severity),
		Details:   ve.Details,
		Retryable: ve.Retryable,
	}
	if ve.Cause != nil {
		je.Cause = ve.Cause.Error()
	}

	return json.Marshal(je)
}

// FormatForLog formats an error for structured logging as slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	ve, ok := err.(*VaultError)
	if !ok {
		return map[string]any{"error": err.Error()}
	}

	result := map[string]any{
		"error_code": ve.Code,
		"message":    ve.Message,
		"category":   string(ve.Category),
		"severity":   string(ve.Severity),
		"retryable":  ve.Retryable,
	}
	if ve.Cause != nil {
		result["cause"] = ve.Cause.Error()
	}
	for k, v := range ve.Details {
		result["detail_"+k] = v
	}

	return result
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
