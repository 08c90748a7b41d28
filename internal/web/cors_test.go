package web

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

func TestConfigureCORSPreflight(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	middleware, err := ConfigureCORS(zaptest.NewLogger(t), []string{"http://localhost:3000", " http://localhost:3000/ "})
	if err != nil {
		t.Fatalf("unexpected error configuring CORS: %v", err)
	}
	router := gin.New()
	router.Use(middleware)
	router.GET("/calendar/events", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/calendar/events", nil)
	request.Header.Set("Origin", "http://localhost:3000")
	request.Header.Set("Access-Control-Request-Method", http.MethodGet)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from preflight, got %d", recorder.Code)
	}
	if origin := recorder.Header().Get("Access-Control-Allow-Origin"); origin != "http://localhost:3000" {
		t.Fatalf("unexpected allowed origin header: %q", origin)
	}
}

func TestNormalizeOrigins(t *testing.T) {
	t.Parallel()
	logger := zaptest.NewLogger(t)

	origins, err := normalizeOrigins(logger, []string{"https://b.example.com", "HTTPS://A.example.com", "", "https://b.example.com/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(origins) != 2 || origins[0] != "https://a.example.com" || origins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins %v", origins)
	}

	testCases := []struct {
		origins  []string
		expected error
	}{
		{origins: nil, expected: errEmptyAllowedOrigins},
		{origins: []string{"  "}, expected: errEmptyAllowedOrigins},
		{origins: []string{"*"}, expected: errWildcardOrigin},
		{origins: []string{"ftp://example.com"}, expected: errInvalidOrigin},
		{origins: []string{"https://example.com/path"}, expected: errInvalidOrigin},
		{origins: []string{"example.com"}, expected: errInvalidOrigin},
	}
	for _, testCase := range testCases {
		if _, err := normalizeOrigins(logger, testCase.origins); !errors.Is(err, testCase.expected) {
			t.Fatalf("%v: expected %v, got %v", testCase.origins, testCase.expected, err)
		}
	}
}
