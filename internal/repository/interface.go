package repository

import (
	"context"
	"errors"

	"github.com/geoshout/geoshout-backend/internal/models"
)

// ErrUserNotFound возвращается, когда хеш токена не найден в реестре
var ErrUserNotFound = errors.New("user not found")

// Repository интерфейс хранилища. Единственная точка синхронизации всей
// системы: каждый запрос ходит в хранилище напрямую, внутрипроцессных
// кешей нет.
type Repository interface {
	// Реестр устройств
	RegisterUser(ctx context.Context, tokenHash, name string) (uint64, error)
	UserExists(ctx context.Context, tokenHash string) (bool, error)
	GetUser(ctx context.Context, tokenHash string) (*models.User, error)

	// Генератор идентификаторов
	NextID(ctx context.Context, counter string) (uint64, error)

	// Индекс и хранилище сообщений
	SaveMessage(ctx context.Context, userID uint64, userName string, highCell uint64, text string) (*models.Message, error)
	QueryMessages(ctx context.Context, highCell, lowCell uint64, newerThan int64) ([]*models.Message, error)

	Ping(ctx context.Context) error
	Close() error
}
