//go:build integration

package records

import (
	"context"
	"os"
	"testing"
)

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	ctx := context.Background()
	s, err := OpenRedis(ctx, addr, "", 15)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	defer s.Close()
	if err := s.rdb.FlushDB(ctx).Err(); err != nil {
		t.Fatal(err)
	}
	runStoreSuite(t, s)
}
