package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/passportd/pkg/storage"
)

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single URL", input: "postgres://localhost:5432/db", expected: []string{"postgres://localhost:5432/db"}},
		{
			name:     "URLs with whitespace and empty entries",
			input:    " postgres://host1:5432/db ,, postgres://host2:5432/db ,",
			expected: []string{"postgres://host1:5432/db", "postgres://host2:5432/db"},
		},
		{name: "only commas", input: " , , ", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func TestConnectionConfigFrom(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.PostgresURL = "postgres://primary/passportd"
	cfg.PostgresReplicaURLs = "postgres://r1/passportd,postgres://r2/passportd"

	conn := ConnectionConfigFrom(cfg)
	assert.Equal(t, "postgres://primary/passportd", conn.PrimaryURL)
	assert.Len(t, conn.ReplicaURLs, 2)
	assert.Equal(t, 20, conn.MaxConns)
	assert.Equal(t, 10*time.Second, conn.Timeout)
}

func TestConnectionManager_Replica(t *testing.T) {
	t.Run("no replicas falls back to primary", func(t *testing.T) {
		primary := &sql.DB{}
		cm := &ConnectionManager{primary: primary}
		assert.Same(t, primary, cm.Replica())
	})

	t.Run("round robin across replicas", func(t *testing.T) {
		r1, r2 := &sql.DB{}, &sql.DB{}
		cm := &ConnectionManager{primary: &sql.DB{}, replicas: []*sql.DB{r1, r2}}

		first := cm.Replica()
		second := cm.Replica()
		third := cm.Replica()
		assert.NotSame(t, first, second)
		assert.Same(t, first, third)
	})
}

func TestConnectionManager_Reader(t *testing.T) {
	ctx := context.Background()

	primary, primaryMock, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()
	r1, r1Mock, err := sqlmock.New()
	require.NoError(t, err)
	defer r1.Close()
	r2, r2Mock, err := sqlmock.New()
	require.NoError(t, err)
	defer r2.Close()

	for _, mock := range []sqlmock.Sqlmock{r1Mock, r2Mock} {
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM batches`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	}

	cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{r1, r2}}
	reader := cm.Reader()
	for i := 0; i < 2; i++ {
		var n int
		require.NoError(t, reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches`).Scan(&n))
		assert.Equal(t, 3, n)
	}

	assert.NoError(t, r1Mock.ExpectationsWereMet())
	assert.NoError(t, r2Mock.ExpectationsWereMet())
	assert.NoError(t, primaryMock.ExpectationsWereMet(), "reads never reach the primary")
}

func TestConnectionManager_HealthCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy primary without replicas", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing()
		cm := &ConnectionManager{primary: db}
		assert.NoError(t, cm.HealthCheck(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy primary", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		cm := &ConnectionManager{primary: db}
		err = cm.HealthCheck(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary unhealthy")
	})

	t.Run("all replicas down", func(t *testing.T) {
		primary, primaryMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer primary.Close()
		replica, replicaMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer replica.Close()

		primaryMock.ExpectPing()
		replicaMock.ExpectPing().WillReturnError(errors.New("timeout"))

		cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{replica}}
		err = cm.HealthCheck(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all replicas unhealthy")
	})
}

func TestConnectionManager_Close(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectClose()
	cm := &ConnectionManager{primary: db}
	assert.NoError(t, cm.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
