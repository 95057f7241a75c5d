package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/backoffice/internal/infrastructure/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newPingMonitoredDB(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	return &Database{DB: gdb}, mock
}

func TestDatabase_Ping(t *testing.T) {
	db, mock := newPingMonitoredDB(t)
	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	assert.NoError(t, db.Ping(context.Background()))
	assert.ErrorContains(t, db.Ping(context.Background()), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDatabase_Collector(t *testing.T) {
	db, mock := newPingMonitoredDB(t)
	pool, err := db.DB.DB()
	require.NoError(t, err)
	pool.SetMaxOpenConns(7)

	collector, err := db.Collector("backoffice")
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(collector))

	families, err := reg.Gather()
	require.NoError(t, err)
	var maxOpen float64
	for _, f := range families {
		if f.GetName() == "go_sql_max_open_connections" {
			require.Len(t, f.GetMetric(), 1)
			assert.Equal(t, "backoffice", f.GetMetric()[0].GetLabel()[0].GetValue())
			maxOpen = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(7), maxOpen)
	assert.Positive(t, testutil.CollectAndCount(collector))

	mock.ExpectClose()
	assert.NoError(t, db.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewDatabase_UnreachableHost(t *testing.T) {
	db, err := NewDatabase(&config.DatabaseConfig{
		Host:         "127.0.0.1",
		Port:         1,
		User:         "nobody",
		DBName:       "nothing",
		SSLMode:      "disable",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.Error(t, err)
	assert.Nil(t, db)
}
