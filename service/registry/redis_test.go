package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniRedisBackend(t *testing.T) Backend {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisBackendFromClient(rdb, "test")
}

func TestRedisBackend(t *testing.T) {
	runStoreSuite(t, newMiniRedisBackend)
}

func TestRedisBackendSkipsDanglingMembers(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	b := NewRedisBackendFromClient(rdb, "test")

	ctx := context.Background()
	reg, _ := Open(ctx, b)
	defer reg.Close()

	_ = reg.Put(ctx, "alice", "c1", time.UnixMilli(1000))
	if _, err := mr.SAdd("test:conns", "ghost"); err != nil {
		t.Fatal(err)
	}
	list, err := reg.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ConnectionID != "c1" {
		t.Fatalf("list = %+v", list)
	}
}

func TestRedisBackendKeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	reg, _ := Open(ctx, NewRedisBackendFromClient(rdb, ""))
	defer reg.Close()
	_ = reg.Put(ctx, "alice", "c1", time.UnixMilli(1000))

	if got := mr.HGet("relay:conn:c1", "user_id"); got != "alice" {
		t.Fatalf("hash user = %q", got)
	}
	if ok, _ := mr.SIsMember("relay:user:alice", "c1"); !ok {
		t.Fatal("user set missing c1")
	}
	if ok, _ := mr.SIsMember("relay:conns", "c1"); !ok {
		t.Fatal("conns set missing c1")
	}
}
