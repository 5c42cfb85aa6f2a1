package app

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"costwatch/internal/infrastructure"
)

func TestNewApplication_Wiring(t *testing.T) {
	t.Setenv("COSTWATCH_LOGGING_OUTPUT", "console")
	t.Setenv("COSTWATCH_CONFIG", "/nonexistent/config.yaml")
	infrastructure.ResetLoggerForTesting()

	application, err := NewApplication()
	require.NoError(t, err)

	assert.NotNil(t, application.Config)
	assert.NotNil(t, application.Logger)
	assert.NotNil(t, application.Metrics)
	assert.NotNil(t, application.Service)
	require.NotNil(t, application.Server)
	assert.Equal(t, ":8080", application.Server.Addr)

	// The wired router must answer the health endpoint.
	rec := httptest.NewRecorder()
	application.Server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/health", nil))
	assert.Equal(t, 200, rec.Code)
}
