package db

import (
	"database/sql"
	"fmt"
	"log"

	"soniq/config"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var DB *sql.DB

// ConnectDB establishes a connection to the database.
func ConnectDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to the database.")
	return nil
}

// InitDB ensures the schema this worker depends on exists. The tracks table is
// owned by the catalog service; creating it here keeps local development and
// tests self-contained. In production the DDL is a no-op.
func InitDB() error {
	if err := createTracksTable(); err != nil {
		return err
	}
	log.Println("Database initialization completed.")
	return nil
}

func createTracksTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS tracks (
		id CHAR(26) PRIMARY KEY,
		user_id CHAR(26) NOT NULL,
		object_key VARCHAR(512) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'processing',
		metadata JSON,
		duration DOUBLE NOT NULL DEFAULT 0,
		waveform_object_key VARCHAR(512),
		failure_reason VARCHAR(64),
		processed_at TIMESTAMP NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		version BIGINT NOT NULL DEFAULT 0,
		INDEX idx_user_id (user_id),
		INDEX idx_status (status)
	);
	`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create tracks table: %w", err)
	}
	log.Println("Tracks table initialized successfully (or already exists).")
	return nil
}

// CloseDB 关闭数据库连接
func CloseDB() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}
