// Package testutil opens throwaway sqlite-backed gorm stores for repo and
// service tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/neuroagent-backend/internal/types"
)

var dbSeq atomic.Int64

func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	// A uniquely named shared-cache memory database keeps every pooled
	// connection pointed at the same store within one test.
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", dbSeq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(
		&types.Thread{},
		&types.Message{},
		&types.ToolCall{},
		&types.TokenConsumption{},
		&types.ComplexityEstimation{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, err := gdb.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}
