package repo

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to postgres or sqlite depending on the DSN and returns the driver name.
// Timestamps written by gorm are always UTC.
func Open(dsn string) (*gorm.DB, string, error) {
	driver, sqlitePath, err := ResolveDriver(dsn)
	if err != nil {
		return nil, "", err
	}
	cfg := &gorm.Config{NowFunc: func() time.Time { return time.Now().UTC() }}

	var db *gorm.DB
	switch driver {
	case DriverPostgres:
		cfg.PrepareStmt = true
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	}
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// sqlite has a single writer; row locks degrade to this.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, "", err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, driver, nil
}

// ResolveDriver accepts postgres:// URLs, key=value postgres DSNs, sqlite:// URLs and
// bare sqlite paths.
func ResolveDriver(dsn string) (string, string, error) {
	if dsn == "" {
		return "", "", fmt.Errorf("database url is required")
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DriverPostgres, "", nil
	}
	if strings.Contains(dsn, "host=") && strings.Contains(dsn, "dbname=") {
		return DriverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Host + u.Path
		if path == "" || path == "/" {
			path = "stars.db"
		}
		p, err := normalizeSQLitePath(path)
		return DriverSQLite, p, err
	}
	p, err := normalizeSQLitePath(dsn)
	return DriverSQLite, p, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}
