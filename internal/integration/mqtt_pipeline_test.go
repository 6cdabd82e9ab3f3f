package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/geoshout/geoshout-backend/internal/auth"
	"github.com/geoshout/geoshout-backend/internal/config"
	"github.com/geoshout/geoshout-backend/internal/geo"
	"github.com/geoshout/geoshout-backend/internal/mqtt"
	"github.com/geoshout/geoshout-backend/internal/repository"
	"github.com/geoshout/geoshout-backend/pkg/pool"
	"github.com/geoshout/geoshout-backend/pkg/utils"
)

// MQTTPipelineTestSuite тестирует путь MQTT публикации без брокера:
// парсер, пул воркеров и запись в Redis. Сам paho клиент здесь не
// участвует, он только доставляет payload в этот же конвейер.
type MQTTPipelineTestSuite struct {
	suite.Suite
	repo        *repository.RedisRepository
	redisClient *redis.Client
	parser      *mqtt.Parser
	ctx         context.Context
}

func (suite *MQTTPipelineTestSuite) SetupSuite() {
	suite.ctx = context.Background()

	redisConfig := &config.RedisConfig{
		URL:      "redis://localhost:6379",
		DB:       14, // Отдельная DB для MQTT интеграционных тестов
		PoolSize: 10,
	}

	logger := utils.NewLogger("error", "text")

	var err error
	suite.repo, err = repository.NewRedisRepository(redisConfig, 1800*time.Second, logger)
	require.NoError(suite.T(), err)

	suite.redisClient = suite.repo.GetClient()
	if err := suite.redisClient.Ping(suite.ctx).Err(); err != nil {
		suite.T().Skip("Redis not available for integration testing: " + err.Error())
	}

	suite.parser = mqtt.NewParser(logger)
}

func (suite *MQTTPipelineTestSuite) SetupTest() {
	require.NoError(suite.T(), suite.redisClient.FlushDB(suite.ctx).Err())
}

func (suite *MQTTPipelineTestSuite) TearDownSuite() {
	if suite.redisClient != nil {
		suite.redisClient.FlushDB(suite.ctx)
	}
	if suite.repo != nil {
		suite.repo.Close()
	}
}

// ingest повторяет обработчик из main: находит пользователя по токену
// и сохраняет сообщение в ячейке публикации
func (suite *MQTTPipelineTestSuite) ingest(ctx context.Context, post *mqtt.PostPayload) error {
	user, err := suite.repo.GetUser(ctx, auth.HashToken(post.Token))
	if err != nil {
		return err
	}
	cell := geo.EncodePoint(post.Longitude, post.Latitude, geo.HighSteps)
	_, err = suite.repo.SaveMessage(ctx, user.ID, user.Name, cell, post.Message)
	return err
}

func (suite *MQTTPipelineTestSuite) TestPayloadReachesStore() {
	_, err := suite.repo.RegisterUser(suite.ctx, auth.HashToken(carlToken), "Carl")
	require.NoError(suite.T(), err)

	payload, err := json.Marshal(map[string]interface{}{
		"token": carlToken, "lat": 66.40, "lon": 15.44016, "message": "Hello, I am Carl",
	})
	require.NoError(suite.T(), err)

	post, err := suite.parser.Parse(payload)
	require.NoError(suite.T(), err)

	workers := pool.NewWorkerPool(2, 8)
	workers.Start(suite.ctx)
	require.NoError(suite.T(), workers.Submit(func(ctx context.Context) {
		require.NoError(suite.T(), suite.ingest(ctx, post))
	}))
	workers.Stop()

	// Сообщение видно из соседней точки
	highCell := geo.EncodePoint(15.44, 66.40, geo.HighSteps)
	lowCell := geo.EncodePoint(15.44, 66.40, geo.LowSteps)
	messages, err := suite.repo.QueryMessages(suite.ctx, highCell, lowCell, 0)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), messages, 1)
	assert.Equal(suite.T(), "Hello, I am Carl", messages[0].Text)
	assert.Equal(suite.T(), "Carl", messages[0].UserName)
}

func (suite *MQTTPipelineTestSuite) TestUnknownTokenRejected() {
	payload := []byte(fmt.Sprintf(`{"token":"%s","lat":66.40,"lon":15.44,"message":"hi"}`, eveToken))

	post, err := suite.parser.Parse(payload)
	require.NoError(suite.T(), err)

	err = suite.ingest(suite.ctx, post)
	assert.ErrorIs(suite.T(), err, repository.ErrUserNotFound)
}

func (suite *MQTTPipelineTestSuite) TestBurstThroughWorkerPool() {
	_, err := suite.repo.RegisterUser(suite.ctx, auth.HashToken(carlToken), "Carl")
	require.NoError(suite.T(), err)

	workers := pool.NewWorkerPool(4, 64)
	workers.Start(suite.ctx)

	for i := 0; i < 50; i++ {
		payload := []byte(fmt.Sprintf(
			`{"token":"%s","lat":66.40,"lon":15.44,"message":"burst %d"}`, carlToken, i))
		post, err := suite.parser.Parse(payload)
		require.NoError(suite.T(), err)
		require.NoError(suite.T(), workers.Submit(func(ctx context.Context) {
			_ = suite.ingest(ctx, post)
		}))
	}
	workers.Stop()

	highCell := geo.EncodePoint(15.44, 66.40, geo.HighSteps)
	lowCell := geo.EncodePoint(15.44, 66.40, geo.LowSteps)
	messages, err := suite.repo.QueryMessages(suite.ctx, highCell, lowCell, 0)
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), messages, 50)
}

func TestMQTTPipelineSuite(t *testing.T) {
	suite.Run(t, new(MQTTPipelineTestSuite))
}
