package handler

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/geoshout/geoshout-backend/internal/auth"
	"github.com/geoshout/geoshout-backend/internal/geo"
	"github.com/geoshout/geoshout-backend/internal/metrics"
	"github.com/geoshout/geoshout-backend/internal/models"
	"github.com/geoshout/geoshout-backend/internal/repository"
	"github.com/geoshout/geoshout-backend/pkg/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendBuf  = 16
	maxControlRead = 512
)

// Hub раздает опубликованные сообщения подключенным WebSocket клиентам.
// Клиент получает только сообщения из зоны близости его точки подключения.
type Hub struct {
	logger *logrus.Entry

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	ranges []geo.Range
}

// NewHub создает новый Hub
func NewHub(logger *utils.Logger) *Hub {
	return &Hub{
		logger:  logger.WithField("component", "websocket"),
		clients: make(map[*wsClient]struct{}),
	}
}

// Broadcast рассылает сообщение клиентам, чья зона близости покрывает cell.
// Медленные клиенты пропускают сообщение, рассылка не блокируется.
func (h *Hub) Broadcast(msg *models.Message, cell uint64) {
	data, err := msg.ToJSON()
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode broadcast message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !covered(client.ranges, cell) {
			continue
		}
		select {
		case client.send <- data:
			metrics.WebSocketMessagesOut.Inc()
		default:
			metrics.WebSocketDropped.Inc()
		}
	}
}

func covered(ranges []geo.Range, cell uint64) bool {
	for _, r := range ranges {
		if r.Contains(cell) {
			return true
		}
	}
	return false
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketConnections.Set(float64(n))
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketConnections.Set(float64(n))
}

// WebSocketHandler обрабатывает подключения к live ленте сообщений
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	repo     repository.Repository
	hub      *Hub
	logger   *logrus.Entry
}

// NewWebSocketHandler создает новый WebSocket handler
func NewWebSocketHandler(repo repository.Repository, hub *Hub, logger *utils.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: проверка Origin для production
				return true
			},
		},
		repo:   repo,
		hub:    hub,
		logger: logger.WithField("component", "websocket"),
	}
}

// Handle открывает live ленту сообщений вокруг точки подключения
// GET /ws/v1/nearby?token=...&lat=...&lon=...
func (h *WebSocketHandler) Handle(c *gin.Context) {
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

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	exists, err := h.repo.UserExists(ctx, auth.HashToken(token))
	if err != nil {
		h.logger.WithError(err).Error("WebSocket auth check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "message": "Internal server error"})
		return
	}
	if !exists {
		notRegistered(c)
		return
	}

	lowCell := geo.EncodePoint(lon, lat, geo.LowSteps)
	ranges, err := geo.ProximityRanges(lowCell)
	if err != nil {
		h.logger.WithError(err).Error("Failed to compute proximity ranges")
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "message": "Internal server error"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, clientSendBuf),
		ranges: ranges,
	}
	h.hub.add(client)

	h.logger.WithFields(logrus.Fields{
		"geohash": point.Geohash(9),
		"cell":    lowCell,
	}).Debug("WebSocket client connected")

	go h.writePump(client)
	go h.readPump(client)
}

// writePump отправляет сообщения и ping фреймы клиенту
func (h *WebSocketHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump поддерживает соединение живым и убирает клиента при разрыве.
// Входящие данные от клиентов не используются, лента только на чтение.
func (h *WebSocketHandler) readPump(client *wsClient) {
	defer func() {
		h.hub.remove(client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxControlRead)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
