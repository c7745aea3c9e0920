package database

import (
	"fmt"
	"sort"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// serverDialect describes a networked database reachable through host/port credentials.
type serverDialect struct {
	name        string
	defaultHost string
	defaultPort int
	// defaults are merged beneath user supplied options.
	defaults map[string]string
}

var (
	postgresDialect = serverDialect{
		name:        "postgres",
		defaultHost: "localhost",
		defaultPort: 5432,
		defaults:    map[string]string{"sslmode": "disable", "TimeZone": "UTC"},
	}
	mysqlDialect = serverDialect{
		name:        "mysql",
		defaultHost: "127.0.0.1",
		defaultPort: 3306,
		defaults:    map[string]string{"charset": "utf8mb4", "parseTime": "True", "loc": "UTC"},
	}
)

func (d serverDialect) endpoint(cfg Config) (string, int, error) {
	if strings.TrimSpace(cfg.User) == "" || strings.TrimSpace(cfg.Name) == "" {
		return "", 0, fmt.Errorf("%s configuration requires user and database name", d.name)
	}
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = d.defaultHost
	}
	port := cfg.Port
	if port <= 0 {
		port = d.defaultPort
	}
	return host, port, nil
}

// options returns key=value pairs sorted by key so DSNs are stable.
func (d serverDialect) options(overrides map[string]string) []string {
	merged := make(map[string]string, len(d.defaults)+len(overrides))
	for k, v := range d.defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+merged[k])
	}
	return pairs
}

func openPostgres(cfg Config) (*gorm.DB, error) {
	dsn, err := buildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(postgres.Open(dsn), gormConfig())
}

func buildPostgresDSN(cfg Config) (string, error) {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn, nil
	}
	host, port, err := postgresDialect.endpoint(cfg)
	if err != nil {
		return "", err
	}

	params := []string{
		"host=" + host,
		fmt.Sprintf("port=%d", port),
		"user=" + cfg.User,
		"dbname=" + cfg.Name,
	}
	if cfg.Password != "" {
		params = append(params, "password="+cfg.Password)
	}
	params = append(params, postgresDialect.options(cfg.Options)...)
	return strings.Join(params, " "), nil
}

func openMySQL(cfg Config) (*gorm.DB, error) {
	dsn, err := buildMySQLDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(mysql.Open(dsn), gormConfig())
}

func buildMySQLDSN(cfg Config) (string, error) {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn, nil
	}
	host, port, err := mysqlDialect.endpoint(cfg)
	if err != nil {
		return "", err
	}

	credentials := cfg.User
	if cfg.Password != "" {
		credentials += ":" + cfg.Password
	}
	query := strings.Join(mysqlDialect.options(cfg.Options), "&")
	return fmt.Sprintf("%s@tcp(%s:%d)/%s?%s", credentials, host, port, cfg.Name, query), nil
}
