package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecker_CheckEmbedderConfig_Empty(t *testing.T) {
	checker := New()

	result := checker.CheckEmbedderConfig("")

	assert.Equal(t, StatusWarn, result.Status)
	assert.Equal(t, "embedder_config", result.Name)
	assert.False(t, result.Required)
}

func TestChecker_CheckEmbedderConfig_Invalid(t *testing.T) {
	checker := New()

	result := checker.CheckEmbedderConfig("not a url")

	assert.Equal(t, StatusFail, result.Status)
}

func TestChecker_CheckEmbedderConfig_Valid(t *testing.T) {
	checker := New()

	result := checker.CheckEmbedderConfig("http://localhost:11434/v1")

	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "localhost:11434")
}

func TestChecker_CheckEmbedderReachable_Reaches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := New()
	result := checker.CheckEmbedderReachable(context.Background(), srv.URL)

	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "embedder_reachable", result.Name)
}

func TestChecker_CheckEmbedderReachable_Unreachable(t *testing.T) {
	checker := New()

	result := checker.CheckEmbedderReachable(context.Background(), "http://127.0.0.1:1")

	assert.Equal(t, StatusWarn, result.Status)
	assert.False(t, result.Required)
}
