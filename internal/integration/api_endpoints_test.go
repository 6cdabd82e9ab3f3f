package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/geoshout/geoshout-backend/internal/config"
	"github.com/geoshout/geoshout-backend/internal/handler"
	"github.com/geoshout/geoshout-backend/internal/repository"
	"github.com/geoshout/geoshout-backend/pkg/utils"
)

const (
	aliceToken = "aaaa56789abcdefghijklmnopqrstuvwxyza"
	carlToken  = "cccc56789abcdefghijklmnopqrstuvwxyzc"
	eveToken   = "eeee56789abcdefghijklmnopqrstuvwxyze"
)

// APIEndpointsTestSuite тестирует полные API endpoints с реальным Redis
type APIEndpointsTestSuite struct {
	suite.Suite
	router      *gin.Engine
	redisRepo   *repository.RedisRepository
	redisClient *redis.Client
	ctx         context.Context
}

func (suite *APIEndpointsTestSuite) SetupSuite() {
	suite.ctx = context.Background()
	gin.SetMode(gin.TestMode)

	redisConfig := &config.RedisConfig{
		URL:          "redis://localhost:6379",
		Password:     "",
		DB:           13, // Отдельная DB для API интеграционных тестов
		PoolSize:     10,
		MinIdleConns: 5,
	}

	logger := utils.NewLogger("error", "text")

	var err error
	suite.redisRepo, err = repository.NewRedisRepository(redisConfig, 1800*time.Second, logger)
	require.NoError(suite.T(), err)

	suite.redisClient = suite.redisRepo.GetClient()

	if err := suite.redisClient.Ping(suite.ctx).Err(); err != nil {
		suite.T().Skip("Redis not available for integration testing: " + err.Error())
	}

	restHandler := handler.NewRESTHandler(suite.redisRepo, nil, logger, false)

	suite.router = gin.New()
	suite.router.Use(gin.Recovery())

	api := suite.router.Group("/api/v1")
	{
		api.POST("/register", restHandler.Register)
		api.POST("/messages", restHandler.PostMessage)
		api.GET("/messages", restHandler.QueryMessages)
	}
}

func (suite *APIEndpointsTestSuite) SetupTest() {
	require.NoError(suite.T(), suite.redisClient.FlushDB(suite.ctx).Err())
}

func (suite *APIEndpointsTestSuite) TearDownSuite() {
	if suite.redisClient != nil {
		suite.redisClient.FlushDB(suite.ctx)
	}
	if suite.redisRepo != nil {
		suite.redisRepo.Close()
	}
}

func (suite *APIEndpointsTestSuite) postJSON(path string, body interface{}) *httptest.ResponseRecorder {
	data, err := json.Marshal(body)
	require.NoError(suite.T(), err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	return w
}

func (suite *APIEndpointsTestSuite) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)
	return w
}

func (suite *APIEndpointsTestSuite) register(token, name string, lat, lon float64) uint64 {
	w := suite.postJSON("/api/v1/register", map[string]interface{}{
		"token": token, "name": name, "lat": lat, "lon": lon,
	})
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())

	var resp handler.RegisterResponse
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.UserID
}

func (suite *APIEndpointsTestSuite) post(token, message string, lat, lon float64) uint64 {
	w := suite.postJSON("/api/v1/messages", map[string]interface{}{
		"token": token, "lat": lat, "lon": lon, "message": message,
	})
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())

	var resp handler.PostResponse
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.MessageID
}

func (suite *APIEndpointsTestSuite) query(token string, lat, lon float64, since int64) handler.QueryResponse {
	url := fmt.Sprintf("/api/v1/messages?token=%s&lat=%f&lon=%f&since=%d", token, lat, lon, since)
	w := suite.get(url)
	require.Equal(suite.T(), http.StatusOK, w.Code, w.Body.String())

	var resp handler.QueryResponse
	require.NoError(suite.T(), json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// TestProximityScenario проверяет сквозной сценарий: Карл публикует
// сообщение, Алиса в ~70 метрах его видит, Ева в ~18 метрах тоже,
// точка в нескольких километрах не видит ничего.
func (suite *APIEndpointsTestSuite) TestProximityScenario() {
	suite.register(aliceToken, "Alice", 66.40, 15.44)
	suite.register(carlToken, "Carl", 66.40, 15.44016)
	suite.register(eveToken, "Eve", 66.40016, 15.44)

	msgID := suite.post(carlToken, "Hello, I am Carl", 66.40, 15.44016)
	assert.NotZero(suite.T(), msgID)

	aliceView := suite.query(aliceToken, 66.40, 15.44, 0)
	require.Len(suite.T(), aliceView.Messages, 1)
	assert.Equal(suite.T(), "Hello, I am Carl", aliceView.Messages[0].Text)
	assert.Equal(suite.T(), "Carl", aliceView.Messages[0].UserName)

	eveView := suite.query(eveToken, 66.40016, 15.44, 0)
	require.Len(suite.T(), eveView.Messages, 1)

	// Та же Алиса, но запрос из точки в нескольких километрах
	farView := suite.query(aliceToken, 66.40, 15.47, 0)
	assert.Empty(suite.T(), farView.Messages)
}

func (suite *APIEndpointsTestSuite) TestSinceExcludesOwnTimestamp() {
	suite.register(aliceToken, "Alice", 66.40, 15.44)
	suite.register(carlToken, "Carl", 66.40, 15.44016)

	suite.post(carlToken, "Hello, I am Carl", 66.40, 15.44016)

	view := suite.query(aliceToken, 66.40, 15.44, 0)
	require.Len(suite.T(), view.Messages, 1)

	// Повторный запрос с since равным ts найденного сообщения пуст
	since := view.Messages[0].Timestamp
	again := suite.query(aliceToken, 66.40, 15.44, since)
	assert.Empty(suite.T(), again.Messages)
}

func (suite *APIEndpointsTestSuite) TestReRegistrationKeepsUserID() {
	first := suite.register(aliceToken, "Alice", 66.40, 15.44)
	second := suite.register(aliceToken, "Alice Cooper", 66.40, 15.44)
	assert.Equal(suite.T(), first, second)

	// Новое имя видно в последующих сообщениях
	suite.post(aliceToken, "renamed", 66.40, 15.44)
	view := suite.query(aliceToken, 66.40, 15.44, 0)
	require.Len(suite.T(), view.Messages, 1)
	assert.Equal(suite.T(), "Alice Cooper", view.Messages[0].UserName)
}

func (suite *APIEndpointsTestSuite) TestPostWithoutRegistration() {
	w := suite.postJSON("/api/v1/messages", map[string]interface{}{
		"token": aliceToken, "lat": 66.40, "lon": 15.44, "message": "hello",
	})
	assert.Equal(suite.T(), http.StatusUnauthorized, w.Code)
}

func (suite *APIEndpointsTestSuite) TestMessageExpiry() {
	suite.register(carlToken, "Carl", 66.40, 15.44)
	msgID := suite.post(carlToken, "short lived", 66.40, 15.44)

	// TTL тела сообщения установлен при записи
	ttl, err := suite.redisClient.TTL(suite.ctx, fmt.Sprintf("%s%d", repository.MessagePrefix, msgID)).Result()
	require.NoError(suite.T(), err)
	assert.Greater(suite.T(), ttl, time.Duration(0))
	assert.LessOrEqual(suite.T(), ttl, 1800*time.Second)
}

func (suite *APIEndpointsTestSuite) TestNewestFirstOrdering() {
	suite.register(carlToken, "Carl", 66.40, 15.44)

	suite.post(carlToken, "first", 66.40, 15.44)
	time.Sleep(1100 * time.Millisecond) // ts с точностью до секунды
	suite.post(carlToken, "second", 66.40, 15.44)

	view := suite.query(carlToken, 66.40, 15.44, 0)
	require.Len(suite.T(), view.Messages, 2)
	assert.Equal(suite.T(), "second", view.Messages[0].Text)
	assert.Equal(suite.T(), "first", view.Messages[1].Text)
}

func TestAPIEndpointsSuite(t *testing.T) {
	suite.Run(t, new(APIEndpointsTestSuite))
}
