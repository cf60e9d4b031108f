// escalation-once runs a single escalation tick (overdue warning pass plus
// reactivation pass) against the configured database and exits. Useful for
// cron-driven deployments and for replaying a missed window after downtime.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/escalation-once
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/edufocus/lending_backend/config"
	"bitbucket.org/edufocus/lending_backend/workflow"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	// Redis is optional here: without it the tick proceeds unguarded, which
	// is fine for a one-shot invocation.
	if os.Getenv("REDIS_ADDRESS") != "" {
		config.ConnectRedisWithRetry()
	}

	logger := config.GetLogger()
	workflow.NewEscalationScheduler(db, logger).TickOnce(ctx)
	fmt.Println("escalation tick completed")
}
