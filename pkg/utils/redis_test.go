package utils

import (
	"context"
	"testing"
	"time"
)

func TestRedisConfigDefaults(t *testing.T) {
	c := RedisConfig{Addr: "localhost:6379", PoolSize: 5}.withDefaults()
	if c.PoolSize != 5 {
		t.Fatalf("expected explicit pool size to be kept, got %d", c.PoolSize)
	}
	if c.DialTimeout != 3*time.Second || c.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}
