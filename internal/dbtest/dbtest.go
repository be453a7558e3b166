// Package dbtest opens isolated in-memory SQLite databases carrying the
// same tables as the postgres migrations.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE payment_providers (
		id INTEGER PRIMARY KEY,
		provider_name TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		is_test_mode BOOLEAN NOT NULL DEFAULT 0,
		priority INTEGER NOT NULL DEFAULT 0,
		supported_currencies TEXT NOT NULL DEFAULT '[]',
		supported_countries TEXT NOT NULL DEFAULT '[]',
		health_status TEXT NOT NULL DEFAULT 'unknown',
		health_source TEXT NOT NULL DEFAULT 'manual',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE routing_rules (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		conditions TEXT NOT NULL DEFAULT '[]',
		priority INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		target_provider_id INTEGER NOT NULL,
		fallback_provider_id INTEGER,
		load_balancing_weight REAL NOT NULL DEFAULT 1.0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE provider_webhooks (
		id INTEGER PRIMARY KEY,
		config_id INTEGER NOT NULL,
		webhook_type TEXT NOT NULL,
		event_type TEXT NOT NULL,
		provider_webhook_id TEXT,
		url TEXT NOT NULL,
		secret TEXT,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		last_triggered DATETIME,
		last_success DATETIME,
		last_failure DATETIME,
		failure_reason TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE provider_analytics_events (
		id INTEGER PRIMARY KEY,
		config_id INTEGER,
		transaction_id TEXT NOT NULL,
		provider_name TEXT NOT NULL,
		amount REAL NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'USD',
		status TEXT NOT NULL,
		response_time_ms INTEGER NOT NULL DEFAULT 0,
		error_code TEXT,
		error_message TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	)`,
}

// Open returns a fresh database named after the running test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// Node returns a snowflake node for generating ids in tests.
func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}
