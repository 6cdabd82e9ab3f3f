package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geoshout/geoshout-backend/internal/auth"
	"github.com/geoshout/geoshout-backend/internal/geo"
	"github.com/geoshout/geoshout-backend/internal/metrics"
	"github.com/geoshout/geoshout-backend/internal/models"
	"github.com/geoshout/geoshout-backend/internal/repository"
	"github.com/geoshout/geoshout-backend/pkg/utils"
)

// RESTHandler обработчик REST API endpoints
type RESTHandler struct {
	repo    repository.Repository
	logger  *utils.Logger
	hub     *Hub
	timeout time.Duration
	debug   bool
}

// NewRESTHandler создает новый REST handler. hub может быть nil, если
// WebSocket трансляция отключена.
func NewRESTHandler(repo repository.Repository, hub *Hub, logger *utils.Logger, debug bool) *RESTHandler {
	return &RESTHandler{
		repo:    repo,
		logger:  logger,
		hub:     hub,
		timeout: 30 * time.Second,
		debug:   debug,
	}
}

// RegisterRequest тело запроса регистрации устройства
type RegisterRequest struct {
	Token     string  `json:"token"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// RegisterResponse фиксированный ответ регистрации
type RegisterResponse struct {
	Status string `json:"status"`
	UserID uint64 `json:"user_id"`
}

// PostRequest тело запроса публикации сообщения
type PostRequest struct {
	Token     string  `json:"token"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Message   string  `json:"message"`
}

// PostResponse фиксированный ответ публикации
type PostResponse struct {
	Status    string `json:"status"`
	MessageID uint64 `json:"message_id"`
}

// QueryResponse фиксированный ответ запроса сообщений
type QueryResponse struct {
	Status   string            `json:"status"`
	Messages []*models.Message `json:"messages"`
}

// Register регистрирует устройство (идемпотентный upsert)
// POST /api/v1/register
func (h *RESTHandler) Register(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, "invalid_json", "Request body must be valid JSON")
		return
	}

	if err := auth.ValidateToken(req.Token); err != nil {
		validationError(c, "invalid_token", err.Error())
		return
	}
	if req.Name == "" || len(req.Name) > models.MaxNameBytes {
		validationError(c, "invalid_name", "Name must be between 1 and 128 bytes")
		return
	}
	point := models.GeoPoint{Latitude: req.Latitude, Longitude: req.Longitude}
	if err := point.Validate(); err != nil {
		validationError(c, "invalid_coordinates", err.Error())
		return
	}

	// Кодируем точку регистрации в той же сетке, что и сообщения
	cell := geo.EncodePoint(req.Longitude, req.Latitude, geo.HighSteps)

	userID, err := h.repo.RegisterUser(ctx, auth.HashToken(req.Token), req.Name)
	if err != nil {
		h.systemError(c, err, "register")
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"cell":    cell,
		"geohash": point.Geohash(9),
	}).Info("Device registered")

	c.JSON(http.StatusOK, RegisterResponse{Status: "ok", UserID: userID})
}

// PostMessage публикует сообщение в текущей точке
// POST /api/v1/messages
func (h *RESTHandler) PostMessage(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	var req PostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		validationError(c, "invalid_json", "Request body must be valid JSON")
		return
	}

	if err := auth.ValidateToken(req.Token); err != nil {
		validationError(c, "invalid_token", err.Error())
		return
	}
	point := models.GeoPoint{Latitude: req.Latitude, Longitude: req.Longitude}
	if err := point.Validate(); err != nil {
		validationError(c, "invalid_coordinates", err.Error())
		return
	}
	if req.Message == "" || len(req.Message) > models.MaxMessageBytes {
		validationError(c, "invalid_message", "Message must be between 1 and 4096 bytes")
		return
	}

	user, err := h.repo.GetUser(ctx, auth.HashToken(req.Token))
	if errors.Is(err, repository.ErrUserNotFound) {
		notRegistered(c)
		return
	}
	if err != nil {
		h.systemError(c, err, "post_message")
		return
	}

	cell := geo.EncodePoint(req.Longitude, req.Latitude, geo.HighSteps)

	msg, err := h.repo.SaveMessage(ctx, user.ID, user.Name, cell, req.Message)
	if err != nil {
		h.systemError(c, err, "post_message")
		return
	}
	metrics.MessagesPosted.WithLabelValues("http").Inc()

	if h.hub != nil {
		h.hub.Broadcast(msg, cell)
	}

	h.logger.WithFields(map[string]interface{}{
		"message_id": msg.ID,
		"user_id":    user.ID,
		"geohash":    point.Geohash(9),
	}).Info("Message posted")

	c.JSON(http.StatusOK, PostResponse{Status: "ok", MessageID: msg.ID})
}

// QueryMessages возвращает сообщения в радиусе ~76 м, новее since
// GET /api/v1/messages?token=...&lat=...&lon=...&since=0
func (h *RESTHandler) QueryMessages(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	token := c.Query("token")
	if err := auth.ValidateToken(token); err != nil {
		validationError(c, "invalid_token", err.Error())
		return
	}

	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		validationError(c, "invalid_latitude", "Latitude must be a number")
		return
	}
	lon, err := strconv.ParseFloat(c.Query("lon"), 64)
	if err != nil {
		validationError(c, "invalid_longitude", "Longitude must be a number")
		return
	}
	point := models.GeoPoint{Latitude: lat, Longitude: lon}
	if err := point.Validate(); err != nil {
		validationError(c, "invalid_coordinates", err.Error())
		return
	}

	var since int64
	if s := c.Query("since"); s != "" {
		since, err = strconv.ParseInt(s, 10, 64)
		if err != nil || since < 0 {
			validationError(c, "invalid_since", "since must be a non-negative integer timestamp")
			return
		}
	}

	exists, err := h.repo.UserExists(ctx, auth.HashToken(token))
	if err != nil {
		h.systemError(c, err, "query_messages")
		return
	}
	if !exists {
		notRegistered(c)
		return
	}

	highCell := geo.EncodePoint(lon, lat, geo.HighSteps)
	lowCell := geo.EncodePoint(lon, lat, geo.LowSteps)

	messages, err := h.repo.QueryMessages(ctx, highCell, lowCell, since)
	if err != nil {
		h.systemError(c, err, "query_messages")
		return
	}

	c.JSON(http.StatusOK, QueryResponse{Status: "ok", Messages: messages})
}

// validationError отвечает 400 без обращения к хранилищу
func validationError(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    code,
		"message": message,
	})
}

// notRegistered отвечает 401, не раскрывая деталей о хеше
func notRegistered(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"code":    "not_registered",
		"message": "Device is not registered",
	})
}

// systemError логирует ошибку хранилища и отвечает общим 500. Детали
// попадают в ответ только при включенном debug флаге.
func (h *RESTHandler) systemError(c *gin.Context, err error, operation string) {
	h.logger.WithFields(map[string]interface{}{
		"operation": operation,
		"error":     err,
	}).Error("Request failed")

	body := gin.H{
		"code":    "internal_error",
		"message": "Internal server error",
	}
	if h.debug {
		body["detail"] = err.Error()
	}
	c.JSON(http.StatusInternalServerError, body)
}
