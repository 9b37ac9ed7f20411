package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/siomalabs/attendance-backend/internal/attendance"
	"github.com/siomalabs/attendance-backend/internal/auth"
	"github.com/siomalabs/attendance-backend/internal/workers"
	"go.uber.org/zap"
)

const (
	apiPrefix          = "/api/v1"
	deviceIDContextKey = "attendance_device_id"
	serviceName        = "SIOMA Attendance API"
	serviceVersion     = "1.0.0"

	defaultConfidence = 1.0
	defaultDeviceID   = "unknown"
)

var (
	errMissingTokenManager      = errors.New("device token manager dependency required")
	errMissingWorkerService     = errors.New("worker service dependency required")
	errMissingAttendanceService = errors.New("attendance service dependency required")
	errInvalidAuthorization     = errors.New("authorization header missing or invalid")
)

// DeviceTokenManager issues and validates device credentials.
type DeviceTokenManager interface {
	Issue(ctx context.Context, deviceID string) (string, int64, error)
	Validate(token string) (auth.DeviceClaims, error)
}

// Dependencies wires the HTTP handler to its collaborating services.
type Dependencies struct {
	Tokens     DeviceTokenManager
	Workers    *workers.Service
	Attendance *attendance.Service
	Logger     *zap.Logger

	// DevTokenEndpoint enables the unauthenticated POST /auth/token route.
	// It exists for development and device provisioning in the lab only and
	// must stay disabled in production deployments.
	DevTokenEndpoint bool
}

// NewHTTPHandler builds the gin router for the attendance API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Workers == nil {
		return nil, errMissingWorkerService
	}
	if deps.Attendance == nil {
		return nil, errMissingAttendanceService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.Tokens,
		workers:    deps.Workers,
		attendance: deps.Attendance,
		logger:     logger,
	}

	router.GET("/", handler.handleRoot)
	router.GET("/health", handler.handleHealth)
	if deps.DevTokenEndpoint {
		router.POST("/auth/token", handler.handleDevToken)
	}

	protected := router.Group(apiPrefix)
	protected.Use(handler.authorizeRequest)
	protected.POST("/workers/register", handler.handleRegisterWorker)
	protected.GET("/workers/list", handler.handleListWorkers)
	protected.GET("/workers/:worker_uuid", handler.handleGetWorker)
	protected.POST("/attendance/checkin", handler.handleCheckin)
	protected.POST("/attendance/sync/batch", handler.handleSyncBatch)
	protected.GET("/attendance/worker/:worker_uuid", handler.handleWorkerHistory)

	return router, nil
}

type httpHandler struct {
	tokens     DeviceTokenManager
	workers    *workers.Service
	attendance *attendance.Service
	logger     *zap.Logger
}

func (h *httpHandler) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": serviceName, "version": serviceVersion})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type devTokenRequestPayload struct {
	DeviceID string `json:"device_id"`
}

type devTokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (h *httpHandler) handleDevToken(c *gin.Context) {
	var request devTokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.DeviceID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id required"})
		return
	}

	token, expiresIn, err := h.tokens.Issue(c.Request.Context(), request.DeviceID)
	if err != nil {
		h.logger.Error("failed to issue device token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, devTokenResponsePayload{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   expiresIn,
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.Validate(token)
	if err != nil {
		// Expired tokens are routine for offline devices; keep them out of
		// the warning stream.
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(deviceIDContextKey, claims.DeviceID)
	c.Next()
}

type registerWorkerPayload struct {
	UUID      string `json:"uuid"`
	Name      string `json:"name"`
	Embedding []byte `json:"embedding"`
}

type workerResponsePayload struct {
	ID        uint      `json:"id"`
	UUID      string    `json:"uuid"`
	Name      string    `json:"name"`
	Embedding []byte    `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func workerResponse(worker workers.Worker, includeEmbedding bool) workerResponsePayload {
	payload := workerResponsePayload{
		ID:        worker.ID,
		UUID:      worker.UUID,
		Name:      worker.Name,
		CreatedAt: worker.CreatedAt,
		UpdatedAt: worker.UpdatedAt,
	}
	if includeEmbedding {
		payload.Embedding = worker.Embedding
	}
	return payload
}

func (h *httpHandler) handleRegisterWorker(c *gin.Context) {
	var request registerWorkerPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	workerUUID, err := workers.NewWorkerUUID(request.UUID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	workerName, err := workers.NewWorkerName(request.Name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	embedding, err := h.workers.NewEmbedding(request.Embedding)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	worker, err := h.workers.Create(c.Request.Context(), workerUUID, workerName, embedding)
	if err != nil {
		if errors.Is(err, workers.ErrWorkerExists) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duplicate worker uuid: " + workerUUID.String()})
			return
		}
		h.logger.Error("worker registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	c.JSON(http.StatusCreated, workerResponse(worker, true))
}

func (h *httpHandler) handleListWorkers(c *gin.Context) {
	skip := parseIntQuery(c, "skip", 0)
	limit := parseIntQuery(c, "limit", 0)

	listed, err := h.workers.List(c.Request.Context(), skip, limit)
	if err != nil {
		h.logger.Error("worker list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	response := make([]workerResponsePayload, 0, len(listed))
	for _, worker := range listed {
		response = append(response, workerResponse(worker, false))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetWorker(c *gin.Context) {
	workerUUID, err := workers.NewWorkerUUID(c.Param("worker_uuid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	worker, err := h.workers.Lookup(c.Request.Context(), workerUUID)
	if err != nil {
		if errors.Is(err, workers.ErrWorkerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "worker not found: " + workerUUID.String()})
			return
		}
		h.logger.Error("worker lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}

	c.JSON(http.StatusOK, workerResponse(worker, true))
}

type checkinPayload struct {
	UUID       string    `json:"uuid"`
	WorkerUUID string    `json:"worker_uuid"`
	Timestamp  time.Time `json:"timestamp"`
	Type       string    `json:"type"`
	Confidence *float64  `json:"confidence"`
	DeviceID   string    `json:"device_id"`
}

type attendanceResponsePayload struct {
	ID         uint      `json:"id"`
	UUID       string    `json:"uuid"`
	WorkerID   uint      `json:"worker_id"`
	WorkerName string    `json:"worker_name"`
	Timestamp  time.Time `json:"timestamp"`
	Type       string    `json:"type"`
	Confidence *float64  `json:"confidence"`
	DeviceID   string    `json:"device_id"`
	SyncedAt   time.Time `json:"synced_at"`
}

func attendanceResponse(record attendance.Record, workerName string) attendanceResponsePayload {
	return attendanceResponsePayload{
		ID:         record.ID,
		UUID:       record.UUID,
		WorkerID:   record.WorkerID,
		WorkerName: workerName,
		Timestamp:  record.Timestamp,
		Type:       string(record.Type),
		Confidence: record.Confidence,
		DeviceID:   record.DeviceID,
		SyncedAt:   record.SyncedAt,
	}
}

// recordIntentFromPayload applies the same defaults the device-side schema
// uses: a generated record uuid, the current server time, full confidence
// and an "unknown" device when fields are omitted.
func recordIntentFromPayload(payload checkinPayload, now time.Time) (attendance.RecordIntent, error) {
	rawUUID := payload.UUID
	if strings.TrimSpace(rawUUID) == "" {
		rawUUID = uuid.NewString()
	}
	recordUUID, err := attendance.NewRecordUUID(rawUUID)
	if err != nil {
		return attendance.RecordIntent{}, err
	}
	workerUUID, err := workers.NewWorkerUUID(payload.WorkerUUID)
	if err != nil {
		return attendance.RecordIntent{}, err
	}
	eventType, err := attendance.ParseEventType(payload.Type)
	if err != nil {
		return attendance.RecordIntent{}, err
	}

	confidence := defaultConfidence
	if payload.Confidence != nil {
		confidence, err = attendance.NewConfidence(*payload.Confidence)
		if err != nil {
			return attendance.RecordIntent{}, err
		}
	}

	timestamp := payload.Timestamp
	if timestamp.IsZero() {
		timestamp = now
	}

	deviceID := strings.TrimSpace(payload.DeviceID)
	if deviceID == "" {
		deviceID = defaultDeviceID
	}

	return attendance.RecordIntent{
		UUID:       recordUUID,
		WorkerUUID: workerUUID,
		Timestamp:  timestamp.UTC(),
		Type:       eventType,
		Confidence: &confidence,
		DeviceID:   deviceID,
	}, nil
}

func (h *httpHandler) handleCheckin(c *gin.Context) {
	var request checkinPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	intent, err := recordIntentFromPayload(request, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.attendance.Append(c.Request.Context(), intent)
	if err != nil {
		switch {
		case errors.Is(err, workers.ErrWorkerNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": "worker not found: " + intent.WorkerUUID.String()})
		case errors.Is(err, attendance.ErrFutureTimestamp):
			c.JSON(http.StatusBadRequest, gin.H{"error": "timestamp is in the future"})
		default:
			h.logger.Error("checkin failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "checkin_failed"})
		}
		return
	}

	// Replays return 201 with the original record; the payload, not the
	// status code, tells the device nothing new was written.
	c.JSON(http.StatusCreated, attendanceResponse(result.Record, result.WorkerName))
}

type syncBatchPayload struct {
	Records []checkinPayload `json:"records"`
}

type syncBatchResponsePayload struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

func (h *httpHandler) handleSyncBatch(c *gin.Context) {
	var request syncBatchPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Records) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	now := time.Now().UTC()
	intents := make([]attendance.RecordIntent, 0, len(request.Records))
	for _, record := range request.Records {
		intent, err := recordIntentFromPayload(record, now)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		intents = append(intents, intent)
	}

	result, err := h.attendance.Reconcile(c.Request.Context(), intents)
	if err != nil {
		if errors.Is(err, attendance.ErrBatchTooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("batch sync aborted", zap.Error(err),
			zap.Int("created", result.Created), zap.Int("skipped", result.Skipped))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}

	c.JSON(http.StatusOK, syncBatchResponsePayload{
		Created: result.Created,
		Skipped: result.Skipped,
		Errors:  result.Errors,
	})
}

func (h *httpHandler) handleWorkerHistory(c *gin.Context) {
	workerUUID, err := workers.NewWorkerUUID(c.Param("worker_uuid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	worker, err := h.workers.Lookup(c.Request.Context(), workerUUID)
	if err != nil {
		if errors.Is(err, workers.ErrWorkerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "worker not found: " + workerUUID.String()})
			return
		}
		h.logger.Error("worker lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}

	limit := parseIntQuery(c, "limit", 0)
	records, err := h.attendance.History(c.Request.Context(), worker.ID, limit)
	if err != nil {
		h.logger.Error("history query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history_failed"})
		return
	}

	response := make([]attendanceResponsePayload, 0, len(records))
	for _, record := range records {
		response = append(response, attendanceResponse(record, worker.Name))
	}
	c.JSON(http.StatusOK, response)
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
