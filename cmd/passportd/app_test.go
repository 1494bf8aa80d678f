package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/passportd/pkg/config"
	"github.com/platinummonkey/passportd/pkg/observability"
	"github.com/platinummonkey/passportd/pkg/orgs"
	"github.com/platinummonkey/passportd/pkg/storage/storagetest"
	"github.com/platinummonkey/passportd/pkg/users"
)

func testApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	registry := prometheus.NewRegistry()
	a := &app{
		cfg:      config.Default(),
		logger:   observability.NewLogger(observability.DebugLevel, &logs),
		registry: registry,
		metrics:  observability.NewMetrics(registry),
	}
	db := storagetest.NewDB(t)
	require.NoError(t, a.wire(db, db))
	return a, &logs
}

func TestCheckPlatformAdmin(t *testing.T) {
	db := storagetest.NewDB(t)
	svc := orgs.NewService(db)
	ctx := context.Background()
	logger := observability.NewLogger(observability.InfoLevel, &bytes.Buffer{})

	err := checkPlatformAdmin(ctx, svc, true, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "passportctl create-default-admin")

	assert.NoError(t, checkPlatformAdmin(ctx, svc, false, logger))

	admin := &users.User{Email: "root@example.com", IsActive: true, IsSuperuser: true}
	require.NoError(t, users.NewStore(db).Create(ctx, admin))
	_, err = svc.CreateOrganization(ctx, admin, orgs.CreateRequest{Name: "Platform", IsPlatformAdmin: true})
	require.NoError(t, err)

	assert.NoError(t, checkPlatformAdmin(ctx, svc, true, logger))
}

func TestHandlerPipeline(t *testing.T) {
	a, _ := testApp(t)
	h := a.handler()

	t.Run("anonymous request", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/organizations", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("non json body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/organizations", strings.NewReader("name=acme"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown route", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestScheduler(t *testing.T) {
	a, logs := testApp(t)

	c, err := a.scheduler()
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 2)

	a.cleanupInvitations()
	assert.Contains(t, logs.String(), "invitation cleanup complete")

	a.cfg.Invitations.CleanupSchedule = "not a schedule"
	_, err = a.scheduler()
	assert.Error(t, err)
}
