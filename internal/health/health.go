// Package health reports component liveness for /healthz.
package health

import (
	"context"
	"database/sql"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

type Status struct {
	Status     string            `json:"status"` // ok | degraded
	Components map[string]string `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

type Checker struct {
	db    *sql.DB
	redis *redis.Client
	nats  *nats.Conn
}

func NewChecker(db *sql.DB, rdb *redis.Client, nc *nats.Conn) *Checker {
	return &Checker{db: db, redis: rdb, nats: nc}
}

// Check pings each configured backend. Postgres down means degraded;
// Redis and NATS are optional and only reported.
func (c *Checker) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	st := Status{Status: "ok", Components: map[string]string{}, CheckedAt: time.Now().UTC()}

	if err := c.db.PingContext(ctx); err != nil {
		st.Components["postgres"] = "down: " + err.Error()
		st.Status = "degraded"
	} else {
		st.Components["postgres"] = "ok"
	}

	if c.redis == nil {
		st.Components["redis"] = "not configured"
	} else if err := c.redis.Ping(ctx).Err(); err != nil {
		st.Components["redis"] = "down: " + err.Error()
	} else {
		st.Components["redis"] = "ok"
	}

	if c.nats == nil {
		st.Components["nats"] = "not configured"
	} else if !c.nats.IsConnected() {
		st.Components["nats"] = "disconnected"
	} else {
		st.Components["nats"] = "ok"
	}

	return st
}
