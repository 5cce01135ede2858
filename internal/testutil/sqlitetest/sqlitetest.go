// Package sqlitetest opens in-memory sqlite databases migrated with the ledger schema.
package sqlitetest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/creditline/internal/migration"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

// postgres-only types and casts used by the migrations
var sqliteDialect = strings.NewReplacer(
	"TIMESTAMPTZ", "DATETIME",
	"'{}'::jsonb", "'{}'",
	"JSONB", "TEXT",
)

// schema translates the embedded postgres migrations into sqlite statements.
func schema() ([]string, error) {
	scripts, err := migration.UpScripts()
	if err != nil {
		return nil, err
	}

	var stmts []string
	for _, script := range scripts {
		for _, stmt := range strings.Split(sqliteDialect.Replace(script), ";") {
			if stmt = strings.TrimSpace(stmt); stmt != "" {
				stmts = append(stmts, stmt)
			}
		}
	}
	return stmts, nil
}

// Open returns a fresh shared-cache in-memory database with every ledger table.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	stmts, err := schema()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// one connection keeps the shared in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

// AssertCount fails the test when query does not return expected.
func AssertCount(t *testing.T, db *gorm.DB, query string, expected int64, args ...any) {
	t.Helper()

	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("query count: %v", err)
	}
	if count != expected {
		t.Fatalf("expected %d, got %d for %q", expected, count, query)
	}
}
