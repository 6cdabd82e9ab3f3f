package models

import (
	"encoding/json"
	"fmt"
)

// MaxNameBytes максимальная длина отображаемого имени пользователя
const MaxNameBytes = 128

// User представляет зарегистрированное устройство
type User struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// Validate проверяет корректность данных пользователя
func (u *User) Validate() error {
	if u.ID < 1 {
		return fmt.Errorf("invalid user id: %d", u.ID)
	}
	if u.Name == "" {
		return fmt.Errorf("user name cannot be empty")
	}
	if len(u.Name) > MaxNameBytes {
		return fmt.Errorf("user name exceeds %d bytes", MaxNameBytes)
	}
	return nil
}

// ToJSON сериализует пользователя в JSON
func (u *User) ToJSON() ([]byte, error) {
	return json.Marshal(u)
}

// UserFromJSON десериализует пользователя из JSON
func UserFromJSON(data []byte) (*User, error) {
	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &user, nil
}
