package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type tracedRow struct {
	ID   int64 `gorm:"primaryKey"`
	Name string
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&tracedRow{}))
	return db
}

func TestRegisterDBTracing_Disabled(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, RegisterDBTracing(db, DBTracingConfig{Enabled: false}, zap.NewNop()))
	assert.Nil(t, db.Callback().Query().Get("meter_timing:after_query"))
}

func TestRegisterDBTracing_SpansAndSlowQueries(t *testing.T) {
	recorder := setupTestTracer(t)
	db := openTestDB(t)

	err := RegisterDBTracing(db, DBTracingConfig{
		Enabled:         true,
		DBSystem:        "sqlite",
		SlowQueryThresh: time.Nanosecond,
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, span := StartServiceSpan(context.Background(), "usage", "get")
	require.NoError(t, db.WithContext(ctx).Create(&tracedRow{Name: "a"}).Error)

	var rows []tracedRow
	require.NoError(t, db.WithContext(ctx).Find(&rows).Error)
	span.End()

	ended := recorder.Ended()
	require.GreaterOrEqual(t, len(ended), 3)

	parentID := span.SpanContext().SpanID()
	children := 0
	for _, s := range ended {
		if s.Parent().SpanID() == parentID {
			children++
		}
	}
	assert.GreaterOrEqual(t, children, 2, "queries are traced under the service span")

	slow := 0
	for _, s := range ended {
		for _, attr := range s.Attributes() {
			if attr.Key == "db.slow_query" && attr.Value.AsBool() {
				slow++
			}
		}
	}
	assert.GreaterOrEqual(t, slow, 2)
}
