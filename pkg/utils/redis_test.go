package utils

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestCappedPushScriptInitialized(t *testing.T) {
	if cappedPushScript == nil {
		t.Fatalf("expected script to be initialized")
	}
}

func TestPushCapped_ValidatesArgs(t *testing.T) {
	ctx := context.Background()
	var nilClient *redis.Client
	if _, err := PushCapped(ctx, nilClient, "k", []byte("v"), 10, time.Minute); err == nil {
		t.Fatalf("expected error for nil client")
	}

	// arguments are checked before any round trip
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()
	cases := []struct {
		name   string
		key    string
		maxLen int
		ttl    time.Duration
	}{
		{"empty key", "", 10, time.Minute},
		{"zero max", "k", 0, time.Minute},
		{"zero ttl", "k", 10, 0},
	}
	for _, tc := range cases {
		if _, err := PushCapped(ctx, rdb, tc.key, []byte("v"), tc.maxLen, tc.ttl); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
