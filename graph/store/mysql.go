package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a Checkpointer backed by MySQL or MariaDB.
//
// JSON columns hold state, pending interrupt and claimed decision. Tables
// use InnoDB, so each Save is a single durable, atomic statement; the
// version predicate in the UPDATE gives at-most-one writer per job across
// processes.
//
// DSN format (go-sql-driver/mysql):
//
//	user:password@tcp(host:3306)/dbname
type MySQLStore struct {
	sqlStore
}

// NewMySQLStore connects to MySQL and ensures the schema exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	if err := execAll(ctx, db, mysqlSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &MySQLStore{sqlStore: sqlStore{db: db, dialect: dialectMySQL}}, nil
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS meetgraph_checkpoints (
		job_id VARCHAR(255) NOT NULL PRIMARY KEY,
		status VARCHAR(64) NOT NULL DEFAULT '',
		stage VARCHAR(255) NOT NULL DEFAULT '',
		step INT NOT NULL DEFAULT 0,
		state JSON NOT NULL,
		pending JSON NULL,
		decision JSON NULL,
		version BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		INDEX idx_meetgraph_checkpoints_status (status),
		INDEX idx_meetgraph_checkpoints_updated (updated_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}
