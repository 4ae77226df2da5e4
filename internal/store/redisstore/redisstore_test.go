package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"coopcredit/internal/capital"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStats() *capital.BankingStatistics {
	return &capital.BankingStatistics{
		BaseCapital:      decimal.NewFromInt(7000),
		TotalCapital:     decimal.RequireFromString("7319.91"),
		AvailableCapital: decimal.RequireFromString("6635.38"),
		Utilization:      decimal.RequireFromString("0.0935"),
		MemberCount:      2,
		ActiveLoanCount:  1,
	}
}

func TestStatisticsCache_Get(t *testing.T) {
	t.Run("hit", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		cache := NewStatisticsCache(db, time.Minute)

		data, err := json.Marshal(sampleStats())
		require.NoError(t, err)
		mock.ExpectGet(DefaultStatisticsKey).SetVal(string(data))

		stats, ok, err := cache.GetStatistics(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, stats.AvailableCapital.Equal(decimal.RequireFromString("6635.38")))
		assert.Equal(t, 2, stats.MemberCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		cache := NewStatisticsCache(db, time.Minute)
		mock.ExpectGet(DefaultStatisticsKey).SetErr(redis.Nil)

		stats, ok, err := cache.GetStatistics(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, stats)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		cache := NewStatisticsCache(db, time.Minute)
		mock.ExpectGet(DefaultStatisticsKey).SetErr(errors.New("connection reset"))

		_, ok, err := cache.GetStatistics(context.Background())
		assert.Error(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("corrupt value", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		cache := NewStatisticsCache(db, time.Minute)
		mock.ExpectGet(DefaultStatisticsKey).SetVal("{not json")

		_, ok, err := cache.GetStatistics(context.Background())
		assert.Error(t, err)
		assert.False(t, ok)
	})
}

func TestStatisticsCache_Set(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewStatisticsCache(db, 30*time.Second)

	stats := sampleStats()
	data, err := json.Marshal(stats)
	require.NoError(t, err)
	mock.ExpectSet(DefaultStatisticsKey, string(data), 30*time.Second).SetVal("OK")

	require.NoError(t, cache.SetStatistics(context.Background(), stats))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatisticsCache_Invalidate(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewStatisticsCache(db, time.Minute)

	mock.ExpectDel(DefaultStatisticsKey).SetVal(1)
	require.NoError(t, cache.Invalidate(context.Background()))

	mock.ExpectDel(DefaultStatisticsKey).SetErr(errors.New("readonly replica"))
	assert.Error(t, cache.Invalidate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
