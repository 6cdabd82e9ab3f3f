package models

import (
	"encoding/json"
	"fmt"
)

// MaxMessageBytes максимальная длина текста сообщения
const MaxMessageBytes = 4096

// Message представляет эфемерное геопривязанное сообщение.
// Неизменяемо после создания; тело удаляется по TTL хранилища.
type Message struct {
	ID        uint64 `json:"id"`
	UserID    uint64 `json:"user_id"`
	UserName  string `json:"user_name"`
	Timestamp int64  `json:"ts"`
	Text      string `json:"message"`
}

// Validate проверяет корректность сообщения
func (m *Message) Validate() error {
	if m.ID < 1 {
		return fmt.Errorf("invalid message id: %d", m.ID)
	}
	if m.UserID < 1 {
		return fmt.Errorf("invalid user id: %d", m.UserID)
	}
	if m.Text == "" {
		return fmt.Errorf("message text cannot be empty")
	}
	if len(m.Text) > MaxMessageBytes {
		return fmt.Errorf("message text exceeds %d bytes", MaxMessageBytes)
	}
	return nil
}

// ToJSON сериализует сообщение в JSON
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MessageFromJSON десериализует сообщение из JSON
func MessageFromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &msg, nil
}
