// Package dbtest runs store tests against a disposable Postgres container.
//
// A test binary calls Main from TestMain; each test then calls Pool for a
// connected pool over an empty schema. The container starts on the first
// Pool call. Without Docker, or with -short, the database tests are skipped.
package dbtest

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/albapepper/breatheasy/internal/config"
	"github.com/albapepper/breatheasy/internal/db"
)

const image = "postgres:16-alpine"

var (
	mainCalled bool
	once       sync.Once
	ctr        *postgres.PostgresContainer
	dsn        string
	skipReason string
)

// Main runs the tests and tears down the container if one was started.
func Main(m *testing.M) int {
	flag.Parse()
	mainCalled = true

	code := m.Run()

	if ctr != nil {
		if err := ctr.Terminate(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "dbtest: terminate container:", err)
		}
	}
	return code
}

func start() {
	if !mainCalled {
		skipReason = "dbtest.Main was not called from TestMain"
		return
	}
	if testing.Short() {
		skipReason = "database tests disabled with -short"
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	c, err := postgres.Run(ctx, image,
		postgres.WithDatabase("breatheasy"),
		postgres.WithUsername("breatheasy"),
		postgres.WithPassword("breatheasy"),
		postgres.BasicWaitStrategies(),
	)
	if c != nil {
		ctr = c
	}
	if err == nil {
		dsn, err = c.ConnectionString(ctx, "sslmode=disable")
	}
	if err != nil {
		dsn = ""
		skipReason = fmt.Sprintf("postgres container unavailable: %v", err)
	}
}

// Pool connects to the test database, applies the schema and empties every
// table. The pool is closed when the test ends.
func Pool(t *testing.T) *db.Pool {
	t.Helper()
	once.Do(start)
	if dsn == "" {
		t.Skip(skipReason)
	}

	ctx := context.Background()
	pool, err := db.New(ctx, &config.Config{
		DatabaseURL:    dsn,
		DBPoolMinConns: 1,
		DBPoolMaxConns: 4,
		DBPoolMaxLife:  time.Minute,
	})
	if err != nil {
		t.Fatalf("connect test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, "TRUNCATE notifications, subscriptions"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}
