package server

import (
	contextpkg "context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/siomalabs/attendance-backend/internal/auth"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubTokenManager struct {
	claims      auth.DeviceClaims
	validateErr error
}

func (s stubTokenManager) Issue(_ contextpkg.Context, deviceID string) (string, int64, error) {
	return "stub-token", 1800, nil
}

func (s stubTokenManager) Validate(token string) (auth.DeviceClaims, error) {
	if s.validateErr != nil {
		return auth.DeviceClaims{}, s.validateErr
	}
	return s.claims, nil
}

func TestAuthorizeRequestRejectsMissingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/api/v1/workers/list", http.NoBody)

	handler := &httpHandler{
		tokens: stubTokenManager{},
		logger: zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/v1/workers/list", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenManager{
			validateErr: fmt.Errorf("%w: %w", auth.ErrInvalidDeviceToken, jwt.ErrTokenExpired),
		},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), jwt.ErrTokenExpired) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsOtherFailuresAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/v1/workers/list", http.NoBody)
	request.Header.Set("Authorization", "Bearer garbage")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens: stubTokenManager{validateErr: auth.ErrInvalidDeviceToken},
		logger: zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for invalid token, got %s", entries[0].Level)
	}
}

func TestAuthorizeRequestStoresDeviceID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/api/v1/workers/list", http.NoBody)
	request.Header.Set("Authorization", "Bearer valid-token")
	ctx.Request = request

	handler := &httpHandler{
		tokens: stubTokenManager{claims: auth.DeviceClaims{DeviceID: "tablet-007"}},
		logger: zap.NewNop(),
	}

	handler.authorizeRequest(ctx)

	if ctx.IsAborted() {
		t.Fatalf("expected request to proceed")
	}
	if got := ctx.GetString(deviceIDContextKey); got != "tablet-007" {
		t.Fatalf("expected device id in context, got %q", got)
	}
}
