// Package dbtest 为测试提供迁移好的内存 SQLite 数据库。
package dbtest

import (
	"testing"

	"messenger/internal/db"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func New(t testing.TB) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), db.Options())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// 每个连接都是独立的内存库，只能保留一个。
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}
