package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/klapom/aegisrag/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *gorm.DB) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	return mock, gormDB
}

// 内存库每个连接独立，测试中限制为单连接
func setupSQLite(t *testing.T, cfg PoolConfig) *PoolManager {
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	pm, err := NewPoolManager(db, "sqlite", cfg, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })
	return pm
}

type recorderStub struct {
	mu    sync.Mutex
	calls int
	name  string
}

func (r *recorderStub) RecordDBConnections(database string, open, idle int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.name = database
}

func (r *recorderStub) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, "postgres", DefaultPoolConfig(), nil, nil)
	require.Error(t, err)
}

func TestPoolConfigFrom(t *testing.T) {
	pc := PoolConfigFrom(config.DatabaseConfig{MaxOpenConns: 7, ConnMaxLifetime: time.Minute})
	assert.Equal(t, 7, pc.MaxOpenConns)
	assert.Equal(t, DefaultPoolConfig().MaxIdleConns, pc.MaxIdleConns)
	assert.Equal(t, time.Minute, pc.ConnMaxLifetime)
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite"} {
		d, err := Dialector(config.DatabaseConfig{Driver: driver, Name: "aegis"})
		require.NoError(t, err, driver)
		assert.Equal(t, driver, d.Name())
	}

	_, err := Dialector(config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	pm, err := Open(config.DatabaseConfig{Driver: "sqlite", Name: "file::memory:"}, nil, nil)
	require.NoError(t, err)
	defer pm.Close()

	require.NoError(t, pm.Ping(context.Background()))
	assert.Equal(t, "sqlite", pm.Name())
	assert.Equal(t, "sqlite", pm.GetStats().Driver)
}

func TestPoolManager_Ping(t *testing.T) {
	mock, gormDB := setupMockDB(t)
	cfg := DefaultPoolConfig()
	cfg.HealthCheckInterval = 0
	pm, err := NewPoolManager(gormDB, "postgres", cfg, nil, nil)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, pm.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_HealthCheckRecordsStats(t *testing.T) {
	rec := &recorderStub{}
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	cfg := DefaultPoolConfig()
	cfg.HealthCheckInterval = 10 * time.Millisecond
	pm, err := NewPoolManager(db, "sqlite", cfg, rec, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return rec.count() > 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, pm.Close())
	assert.Equal(t, "sqlite", rec.name)
}

func TestPoolManager_CloseIdempotent(t *testing.T) {
	pm := setupSQLite(t, DefaultPoolConfig())

	require.NoError(t, pm.Close())
	require.NoError(t, pm.Close())
	assert.ErrorIs(t, pm.Ping(context.Background()), ErrPoolClosed)
	assert.ErrorIs(t, pm.WithTransaction(context.Background(), func(*gorm.DB) error { return nil }), ErrPoolClosed)
}

type txRow struct {
	ID   uint `gorm:"primaryKey"`
	Name string
}

func TestPoolManager_WithTransaction(t *testing.T) {
	pm := setupSQLite(t, DefaultPoolConfig())
	require.NoError(t, pm.DB().AutoMigrate(&txRow{}))
	ctx := context.Background()

	err := pm.WithTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(&txRow{Name: "kept"}).Error
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = pm.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&txRow{Name: "rolled back"}).Error; err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, pm.DB().Model(&txRow{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPoolManager_WithTransactionRetriesDeadlock(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.TxRetries = 2
	pm := setupSQLite(t, cfg)

	calls := 0
	err := pm.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		calls++
		if calls == 1 {
			return errors.New("ERROR: deadlock detected (SQLSTATE 40P01)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("deadlock detected"), true},
		{errors.New("could not serialize access: serialization failure"), true},
		{errors.New("pq: 40001"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("Lock wait timeout exceeded"), true},
		{errors.New("driver: bad connection"), true},
		{errors.New("database is locked"), true},
		{errors.New("syntax error at or near"), false},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}
