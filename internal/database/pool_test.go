package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/ragflow/types"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

// setupTestDB 建 sqlmock 后端（监控 ping，关闭 gorm 自动 ping）
func setupTestDB(t *testing.T) (sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()

	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	return mock, gormDB
}

func newTestPool(t *testing.T, cfg PoolConfig) (*PoolManager, sqlmock.Sqlmock) {
	t.Helper()

	mock, gormDB := setupTestDB(t)
	pm, err := NewPoolManager(gormDB, cfg, zap.NewNop())
	require.NoError(t, err)
	return pm, mock
}

func TestNewPoolManager(t *testing.T) {
	pm, _ := newTestPool(t, PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	})

	assert.NotNil(t, pm.DB())
	assert.Equal(t, 10, pm.Stats().MaxOpenConnections)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	t.Parallel()

	_, err := NewPoolManager(nil, DefaultPoolConfig(), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db cannot be nil")
}

func TestNewPoolManager_InvalidConfig(t *testing.T) {
	_, gormDB := setupTestDB(t)

	_, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 0, MaxIdleConns: 5}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pool config")
}

func TestPoolConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{
			name: "valid config",
			config: PoolConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
				ConnMaxIdleTime: 30 * time.Minute,
			},
			wantErr: false,
		},
		{
			name:    "defaults are valid",
			config:  DefaultPoolConfig(),
			wantErr: false,
		},
		{
			name:    "zero max open conns",
			config:  PoolConfig{MaxOpenConns: 0, MaxIdleConns: 5},
			wantErr: true,
		},
		{
			name:    "zero max idle conns",
			config:  PoolConfig{MaxOpenConns: 10, MaxIdleConns: 0},
			wantErr: true,
		},
		{
			name:    "idle exceeds open",
			config:  PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10},
			wantErr: true,
		},
		{
			name:    "negative lifetime",
			config:  PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: -time.Second},
			wantErr: true,
		},
		{
			name:    "negative health interval",
			config:  PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5, HealthCheckInterval: -time.Second},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPoolManager_Ping(t *testing.T) {
	pm, mock := newTestPool(t, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5})
	ctx := context.Background()

	mock.ExpectPing()
	require.NoError(t, pm.Ping(ctx))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	err := pm.Ping(ctx)
	require.Error(t, err)
	assert.Equal(t, types.ErrStoreUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_CloseIdempotent(t *testing.T) {
	pm, mock := newTestPool(t, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5})

	mock.ExpectClose()
	require.NoError(t, pm.Close())
	require.NoError(t, pm.Close())

	err := pm.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrStoreUnavailable, types.GetErrorCode(err))
	assert.False(t, types.IsRetryable(err))

	err = pm.WithTransaction(context.Background(), func(tx *gorm.DB) error { return nil })
	require.Error(t, err)
	assert.Equal(t, types.ErrStoreUnavailable, types.GetErrorCode(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransaction_Commit(t *testing.T) {
	pm, mock := newTestPool(t, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5})

	mock.ExpectBegin()
	mock.ExpectCommit()

	called := false
	err := pm.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransaction_Rollback(t *testing.T) {
	pm, mock := newTestPool(t, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5})

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := pm.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry_RetriesTransientError(t *testing.T) {
	pm, mock := newTestPool(t, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5})

	// 第一轮死锁回滚，第二轮提交
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	attempts := 0
	err := pm.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		attempts++
		if attempts == 1 {
			return errString("Deadlock found when trying to get lock")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry_PermanentErrorFailsFast(t *testing.T) {
	pm, mock := newTestPool(t, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5})

	mock.ExpectBegin()
	mock.ExpectRollback()

	attempts := 0
	err := pm.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		attempts++
		return errString("syntax error at or near")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_GetStats(t *testing.T) {
	pm, _ := newTestPool(t, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5})

	stats := pm.GetStats()
	assert.Equal(t, 10, stats.MaxOpenConnections)
	assert.GreaterOrEqual(t, stats.OpenConnections, 0)
	assert.GreaterOrEqual(t, stats.InUse, 0)
	assert.GreaterOrEqual(t, stats.Idle, 0)
}

func TestPoolManager_HealthCheckLoop(t *testing.T) {
	pm, mock := newTestPool(t, PoolConfig{
		MaxOpenConns:        10,
		MaxIdleConns:        5,
		HealthCheckInterval: 20 * time.Millisecond,
	})

	// 探活次数取决于调度时机，只验证循环运行且 Close 后停止
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 16; i++ {
		mock.ExpectPing()
	}
	mock.ExpectClose()

	time.Sleep(70 * time.Millisecond)
	require.NoError(t, pm.Close())
	time.Sleep(50 * time.Millisecond)
}

// ====== 可重试错误判定 ======

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadlock", errString("Deadlock found when trying to get lock"), true},
		{"serialization", errString("ERROR: could not serialize access (SQLSTATE 40001)"), true},
		{"lock wait timeout", errString("Lock wait timeout exceeded"), true},
		{"connection refused", errString("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"bad connection", errString("driver: bad connection"), true},
		{"plain", errString("syntax error at or near"), false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }
