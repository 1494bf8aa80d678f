package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPingMock(t *testing.T) (*HealthChecker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(10)
	return NewHealthChecker(db, nil), mock
}

func TestHealthChecker_Liveness(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHealthChecker(nil, nil).Liveness(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
	assert.Equal(t, StatusHealthy, response["status"])
	assert.Contains(t, response, "timestamp")
}

func TestHealthChecker_Readiness(t *testing.T) {
	t.Run("no dependencies", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewHealthChecker(nil, nil).WithVersion("1.2.3").Readiness(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		var response HealthStatus
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
		assert.Equal(t, StatusHealthy, response.Status)
		assert.Equal(t, "1.2.3", response.Version)
	})

	t.Run("failed database is unavailable", func(t *testing.T) {
		checker, mock := newPingMock(t)
		mock.ExpectPing().WillReturnError(errors.New("connection failed"))

		rr := httptest.NewRecorder()
		checker.Readiness(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		var response HealthStatus
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
		assert.Equal(t, StatusUnhealthy, response.Status)
		assert.Equal(t, "connection failed", response.Dependencies["database"].Message)
	})

	t.Run("failed redis only degrades", func(t *testing.T) {
		checker, mock := newPingMock(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

		redisClient := redis.NewClient(&redis.Options{Addr: "localhost:1"})
		defer redisClient.Close()
		checker.redis = redisClient

		rr := httptest.NewRecorder()
		checker.Readiness(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		var response HealthStatus
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
		assert.Equal(t, StatusDegraded, response.Status)
		assert.Equal(t, StatusUnhealthy, response.Dependencies["redis"].Status)
	})
}

func TestHealthChecker_Check(t *testing.T) {
	t.Run("database query failure", func(t *testing.T) {
		checker, mock := newPingMock(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("relation missing"))

		status := checker.Check(context.Background())
		assert.Equal(t, StatusUnhealthy, status.Status)
		assert.Contains(t, status.Dependencies["database"].Message, "query failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("healthy database and redis record pool stats", func(t *testing.T) {
		checker, mock := newPingMock(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()
		redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer redisClient.Close()
		checker.redis = redisClient

		metrics := NewMetrics(prometheus.NewRegistry())
		checker.WithMetrics(metrics)

		status := checker.Check(context.Background())
		assert.Equal(t, StatusHealthy, status.Status)
		assert.Len(t, status.Dependencies, 2)
		assert.Equal(t, StatusHealthy, status.Dependencies["redis"].Status)
		assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.DBConnectionsOpen), float64(1))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replica failure degrades", func(t *testing.T) {
		checker, mock := newPingMock(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
		checker.WithReplicaCheck(func(ctx context.Context) error {
			return errors.New("all replicas unhealthy: replica-0")
		})

		status := checker.Check(context.Background())
		assert.Equal(t, StatusDegraded, status.Status)
		assert.Equal(t, StatusUnhealthy, status.Dependencies["database_replicas"].Status)
		assert.Contains(t, status.Dependencies["database_replicas"].Message, "replica-0")
	})

	t.Run("healthy replicas", func(t *testing.T) {
		checker := NewHealthChecker(nil, nil).WithReplicaCheck(func(ctx context.Context) error { return nil })
		status := checker.Check(context.Background())
		assert.Equal(t, StatusHealthy, status.Status)
		assert.Equal(t, StatusHealthy, status.Dependencies["database_replicas"].Status)
	})
}

func TestRegisterHealthRoutes(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHealthRoutes(mux, NewHealthChecker(nil, nil))

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}
