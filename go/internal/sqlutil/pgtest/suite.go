// Package pgtest provides a testify suite that runs against a throwaway
// Postgres schema. Suites are skipped unless TEST_DATABASE_URL is set.
package pgtest

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"
)

const envDatabaseURL = "TEST_DATABASE_URL"

// DBSuite creates a fresh schema with the migrations applied for each suite run.
type DBSuite struct {
	suite.Suite

	DB     *sqlx.DB
	DSN    string
	admin  *sqlx.DB
	schema string
}

func (s *DBSuite) SetupSuite() {
	base := os.Getenv(envDatabaseURL)
	if base == "" {
		s.T().Skipf("%s not set", envDatabaseURL)
	}

	admin, err := sqlx.Open("pgx", base)
	s.Require().NoError(err)
	s.admin = admin

	s.schema = "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	_, err = admin.Exec(fmt.Sprintf("CREATE SCHEMA %s", s.schema))
	s.Require().NoError(err)

	s.DSN, err = withSearchPath(base, s.schema)
	s.Require().NoError(err)
	s.DB, err = sqlx.Open("pgx", s.DSN)
	s.Require().NoError(err)

	schema, err := os.ReadFile(migrationPath())
	s.Require().NoError(err)
	_, err = s.DB.Exec(string(schema))
	s.Require().NoError(err)
}

func (s *DBSuite) TearDownSuite() {
	if s.DB != nil {
		_ = s.DB.Close()
	}
	if s.admin != nil {
		_, _ = s.admin.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", s.schema))
		_ = s.admin.Close()
	}
}

// Exec runs a fixture statement and fails the test on error.
func (s *DBSuite) Exec(query string, args ...interface{}) {
	_, err := s.DB.ExecContext(context.Background(), query, args...)
	s.Require().NoError(err)
}

func withSearchPath(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func migrationPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations", "0001_outbox.sql")
}
