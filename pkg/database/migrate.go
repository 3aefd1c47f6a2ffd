package database

import (
	"fmt"
	"sort"

	dbsql "github.com/ChrisReeves12/keepwatch-api-sub000/pkg/database/sql"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/logging"
)

func applyEmbedded(exec func(string) error, dir string, logger logging.Logger) error {
	entries, err := dbsql.Content.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read embedded %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := dbsql.Content.ReadFile(dir + "/" + name)
		if err != nil {
			return fmt.Errorf("read %s/%s: %w", dir, name, err)
		}
		if err := exec(string(content)); err != nil {
			return fmt.Errorf("apply %s/%s: %w", dir, name, err)
		}
		logger.WithField("file", dir+"/"+name).Debug("Applied schema file")
	}
	return nil
}

// MigratePostgres applies the embedded PostgreSQL schema files in order.
// The statements are idempotent, so this runs on every startup.
func MigratePostgres(db PostgresConn, logger logging.Logger) error {
	return applyEmbedded(func(stmt string) error {
		_, err := db.Exec(stmt)
		return err
	}, "schema", logger)
}

// MigrateClickHouse applies the embedded ClickHouse schema files in order.
func MigrateClickHouse(conn ClickHouseConn, logger logging.Logger) error {
	return applyEmbedded(func(stmt string) error {
		_, err := conn.Exec(stmt)
		return err
	}, "clickhouse", logger)
}
