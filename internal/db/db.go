package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/atlekbai/query_aggregate/internal/schema"
)

// DialectOf returns the SQL dialect named by the scheme of a database URL.
func DialectOf(rawURL string) (schema.Dialect, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse database url: %w", err)
	}
	switch u.Scheme {
	case "mysql":
		return schema.MySQL, nil
	case "postgres", "postgresql":
		return schema.Postgres, nil
	}
	return "", fmt.Errorf("unsupported database scheme %q", u.Scheme)
}

// MySQLConfig translates a mysql:// URL into a driver config. Query
// parameters are passed through as connection attributes.
func MySQLConfig(rawURL string) (*mysql.Config, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	if q := u.Query(); len(q) > 0 {
		cfg.Params = make(map[string]string, len(q))
		for k := range q {
			cfg.Params[k] = q.Get(k)
		}
	}
	return cfg, nil
}

// Open connects to the database named by rawURL and verifies the connection.
func Open(ctx context.Context, rawURL string) (*sql.DB, schema.Dialect, error) {
	dialect, err := DialectOf(rawURL)
	if err != nil {
		return nil, "", err
	}

	var db *sql.DB
	switch dialect {
	case schema.MySQL:
		cfg, err := MySQLConfig(rawURL)
		if err != nil {
			return nil, "", err
		}
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, "", fmt.Errorf("mysql connector: %w", err)
		}
		db = sql.OpenDB(connector)
	case schema.Postgres:
		cfg, err := pgx.ParseConfig(rawURL)
		if err != nil {
			return nil, "", fmt.Errorf("parse postgres config: %w", err)
		}
		db = stdlib.OpenDB(*cfg)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("ping database: %w", err)
	}
	return db, dialect, nil
}
