package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geoshout/geoshout-backend/internal/config"
	"github.com/geoshout/geoshout-backend/internal/geo"
	"github.com/geoshout/geoshout-backend/internal/metrics"
	"github.com/geoshout/geoshout-backend/internal/models"
	"github.com/geoshout/geoshout-backend/pkg/utils"
)

const (
	// Префиксы ключей
	UserPrefix    = "user:"    // user:{token_hash} - HSET {id, name}
	MessagePrefix = "message:" // message:{id} - JSON тело с TTL

	// Единый глобальный индекс близости: score = cell id высокого
	// разрешения, member = id сообщения. Индекс не истекает сам по себе и
	// чинится лениво при чтении.
	MessagesGeoKey = "messages:geo"

	// Счетчики идентификаторов
	UserIDCounter    = "user_id_generator"
	MessageIDCounter = "message_id_generator"
)

// RedisRepository репозиторий для работы с Redis
type RedisRepository struct {
	client *redis.Client
	logger *utils.Logger
	ttl    time.Duration
}

// NewRedisRepository создает новый Redis репозиторий
func NewRedisRepository(cfg *config.RedisConfig, messageTTL time.Duration, logger *utils.Logger) (*RedisRepository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if messageTTL <= 0 {
		return nil, fmt.Errorf("message TTL must be positive")
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	opt.DB = cfg.DB
	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.ConnMaxIdleTime = 30 * time.Minute
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	return &RedisRepository{
		client: redis.NewClient(opt),
		logger: logger,
		ttl:    messageTTL,
	}, nil
}

// Ping проверяет соединение с Redis
func (r *RedisRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// GetClient возвращает низкоуровневый Redis клиент для интеграционных тестов
func (r *RedisRepository) GetClient() *redis.Client {
	return r.client
}

// NextID атомарно выделяет следующий идентификатор из именованного
// счетчика. Счетчики монотонны, никогда не сбрасываются; дубликаты
// исключены самим Redis INCR.
func (r *RedisRepository) NextID(ctx context.Context, counter string) (uint64, error) {
	val, err := r.client.Incr(ctx, counter).Result()
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("next_id").Inc()
		return 0, fmt.Errorf("failed to increment counter %s: %w", counter, err)
	}
	return uint64(val), nil
}

// RegisterUser регистрирует устройство или обновляет имя существующего.
// Повторная регистрация идемпотентна: сохраненный id переиспользуется,
// перезаписывается только имя.
func (r *RedisRepository) RegisterUser(ctx context.Context, tokenHash, name string) (uint64, error) {
	start := time.Now()
	userKey := UserPrefix + tokenHash

	var id uint64
	idStr, err := r.client.HGet(ctx, userKey, "id").Result()
	switch {
	case err == redis.Nil:
		id, err = r.NextID(ctx, UserIDCounter)
		if err != nil {
			return 0, err
		}
	case err != nil:
		metrics.RedisOperationErrors.WithLabelValues("register_user").Inc()
		return 0, fmt.Errorf("failed to read user record: %w", err)
	default:
		id, err = strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt user id %q: %w", idStr, err)
		}
	}

	if err := r.client.HSet(ctx, userKey, map[string]interface{}{
		"id":   id,
		"name": name,
	}).Err(); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("register_user").Inc()
		return 0, fmt.Errorf("failed to save user record: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"user_id": id,
		"name":    name,
	}).Debug("Registered user")

	metrics.RedisOperationDuration.WithLabelValues("register_user").Observe(time.Since(start).Seconds())
	return id, nil
}

// UserExists проверяет, зарегистрирован ли хеш токена
func (r *RedisRepository) UserExists(ctx context.Context, tokenHash string) (bool, error) {
	n, err := r.client.Exists(ctx, UserPrefix+tokenHash).Result()
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("user_exists").Inc()
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return n > 0, nil
}

// GetUser возвращает запись пользователя по хешу токена
func (r *RedisRepository) GetUser(ctx context.Context, tokenHash string) (*models.User, error) {
	data, err := r.client.HGetAll(ctx, UserPrefix+tokenHash).Result()
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("get_user").Inc()
		return nil, fmt.Errorf("failed to read user record: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrUserNotFound
	}

	id, err := strconv.ParseUint(data["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt user id %q: %w", data["id"], err)
	}

	return &models.User{ID: id, Name: data["name"]}, nil
}

// SaveMessage сохраняет тело сообщения с TTL и добавляет запись в индекс
// близости. Тело пишется первым: читатель не должен найти индексную запись
// без тела. Обратный случай (висячая запись после истечения тела) допустим
// и чинится лениво в QueryMessages.
func (r *RedisRepository) SaveMessage(ctx context.Context, userID uint64, userName string, highCell uint64, text string) (*models.Message, error) {
	start := time.Now()

	id, err := r.NextID(ctx, MessageIDCounter)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ID:        id,
		UserID:    userID,
		UserName:  userName,
		Timestamp: time.Now().UTC().Unix(),
		Text:      text,
	}

	data, err := msg.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	messageKey := MessagePrefix + strconv.FormatUint(id, 10)
	if err := r.client.Set(ctx, messageKey, data, r.ttl).Err(); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("save_message").Inc()
		return nil, fmt.Errorf("failed to save message body: %w", err)
	}

	if err := r.client.ZAdd(ctx, MessagesGeoKey, redis.Z{
		Score:  float64(highCell),
		Member: strconv.FormatUint(id, 10),
	}).Err(); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("save_message").Inc()
		return nil, fmt.Errorf("failed to index message: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"message_id": id,
		"user_id":    userID,
		"cell":       highCell,
	}).Debug("Saved message to Redis")

	metrics.RedisOperationDuration.WithLabelValues("save_message").Observe(time.Since(start).Seconds())
	return msg, nil
}

// QueryMessages возвращает сообщения в окрестности точки, строго новее
// newerThan, от новых к старым. highCell используется только для
// диагностики; кандидаты находятся по 17 диапазонам низкого разрешения.
func (r *RedisRepository) QueryMessages(ctx context.Context, highCell, lowCell uint64, newerThan int64) ([]*models.Message, error) {
	start := time.Now()

	ranges, err := geo.ProximityRanges(lowCell)
	if err != nil {
		// Нарушение инварианта кодирования: лучше отказ, чем молчаливая
		// потеря покрытия.
		return nil, err
	}

	// 17 сканов диапазонов одним конвейером
	pipe := r.client.Pipeline()
	scanCmds := make([]*redis.StringSliceCmd, len(ranges))
	for i, rg := range ranges {
		scanCmds[i] = pipe.ZRangeByScore(ctx, MessagesGeoKey, &redis.ZRangeBy{
			Min: strconv.FormatUint(rg.Lower, 10),
			Max: "(" + strconv.FormatUint(rg.Upper, 10),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		metrics.RedisOperationErrors.WithLabelValues("query_messages").Inc()
		return nil, fmt.Errorf("failed to scan proximity index: %w", err)
	}

	// Дедупликация кандидатов: диапазоны соседей могут пересекаться после
	// арифметики переноса на границах сетки.
	seen := make(map[string]struct{})
	candidates := make([]string, 0)
	for _, cmd := range scanCmds {
		for _, member := range cmd.Val() {
			if _, ok := seen[member]; ok {
				continue
			}
			seen[member] = struct{}{}
			candidates = append(candidates, member)
		}
	}
	metrics.QueryCandidates.Observe(float64(len(candidates)))

	if len(candidates) == 0 {
		return []*models.Message{}, nil
	}

	// Тела сообщений одним конвейером
	pipe = r.client.Pipeline()
	bodyCmds := make([]*redis.StringCmd, len(candidates))
	for i, id := range candidates {
		bodyCmds[i] = pipe.Get(ctx, MessagePrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		metrics.RedisOperationErrors.WithLabelValues("query_messages").Inc()
		return nil, fmt.Errorf("failed to fetch message bodies: %w", err)
	}

	messages := make([]*models.Message, 0, len(candidates))
	stale := make([]interface{}, 0)
	for i, cmd := range bodyCmds {
		if cmd.Err() == redis.Nil {
			// Тело истекло, индексная запись осталась - ленивый ремонт
			stale = append(stale, candidates[i])
			continue
		}
		if cmd.Err() != nil {
			metrics.RedisOperationErrors.WithLabelValues("query_messages").Inc()
			return nil, fmt.Errorf("failed to fetch message body: %w", cmd.Err())
		}

		msg, err := models.MessageFromJSON([]byte(cmd.Val()))
		if err != nil {
			// Поврежденная запись не должна ломать запрос для всей
			// окрестности: логируем и пропускаем.
			metrics.CorruptBodies.Inc()
			r.logger.WithFields(map[string]interface{}{
				"message_id": candidates[i],
				"error":      err,
			}).Warn("Skipping corrupt message body")
			continue
		}

		if msg.Timestamp > newerThan {
			messages = append(messages, msg)
		}
	}

	if len(stale) > 0 {
		if err := r.client.ZRem(ctx, MessagesGeoKey, stale...).Err(); err != nil {
			metrics.RedisOperationErrors.WithLabelValues("index_repair").Inc()
			return nil, fmt.Errorf("failed to repair proximity index: %w", err)
		}
		metrics.IndexRepairs.Add(float64(len(stale)))
		r.logger.WithField("count", len(stale)).Debug("Removed dangling index entries")
	}

	// От новых к старым; при равных временах - по id, чтобы порядок был
	// детерминированным.
	sort.Slice(messages, func(i, j int) bool {
		if messages[i].Timestamp != messages[j].Timestamp {
			return messages[i].Timestamp > messages[j].Timestamp
		}
		return messages[i].ID > messages[j].ID
	})

	r.logger.WithFields(map[string]interface{}{
		"cell":       highCell,
		"low_cell":   lowCell,
		"candidates": len(candidates),
		"found":      len(messages),
		"repaired":   len(stale),
	}).Debug("Proximity query completed")

	metrics.RedisOperationDuration.WithLabelValues("query_messages").Observe(time.Since(start).Seconds())
	return messages, nil
}
