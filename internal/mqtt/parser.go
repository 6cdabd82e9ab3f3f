package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/geoshout/geoshout-backend/internal/auth"
	"github.com/geoshout/geoshout-backend/internal/models"
	"github.com/geoshout/geoshout-backend/pkg/utils"
)

// PostPayload публикация сообщения, пришедшая через MQTT мост.
// Формат совпадает с телом POST /api/v1/messages.
type PostPayload struct {
	Token     string  `json:"token"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Message   string  `json:"message"`
}

// Point возвращает координаты публикации
func (p *PostPayload) Point() models.GeoPoint {
	return models.GeoPoint{Latitude: p.Latitude, Longitude: p.Longitude}
}

// Parser разбирает и валидирует MQTT payload'ы
type Parser struct {
	logger *utils.Logger
}

// NewParser создает новый парсер
func NewParser(logger *utils.Logger) *Parser {
	return &Parser{logger: logger}
}

// Parse разбирает JSON payload публикации. Невалидный payload
// возвращает ошибку, сообщение отбрасывается без повторной доставки.
func (p *Parser) Parse(payload []byte) (*PostPayload, error) {
	var post PostPayload
	if err := json.Unmarshal(payload, &post); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}

	if err := auth.ValidateToken(post.Token); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if err := post.Point().Validate(); err != nil {
		return nil, err
	}
	if post.Message == "" || len(post.Message) > models.MaxMessageBytes {
		return nil, fmt.Errorf("invalid message length: %d bytes", len(post.Message))
	}

	return &post, nil
}
