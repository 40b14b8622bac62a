package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := s.Push(ctx, "u@x.com", fmt.Sprintf("p%d", i)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if err := s.Push(ctx, "u@x.com", ""); err != nil {
		t.Fatalf("Push(empty): %v", err)
	}
	got, err := s.Recent(ctx, "u@x.com")
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != Limit {
		t.Fatalf("len = %d, want %d", len(got), Limit)
	}
	if got[0] != "p9" || got[Limit-1] != "p3" {
		t.Fatalf("Recent = %v, want p9..p3", got)
	}
	other, err := s.Recent(ctx, "nobody")
	if err != nil || len(other) != 0 {
		t.Fatalf("Recent(nobody) = %v, %v", other, err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory(0))
}

func TestMemoryStoreEvictsOldestUser(t *testing.T) {
	m := NewMemory(2)
	ctx := context.Background()
	_ = m.Push(ctx, "a", "x")
	_ = m.Push(ctx, "b", "x")
	_ = m.Push(ctx, "c", "x")
	if got, _ := m.Recent(ctx, "a"); len(got) != 0 {
		t.Fatalf("Recent(a) = %v, want evicted", got)
	}
	if got, _ := m.Recent(ctx, "c"); len(got) != 1 {
		t.Fatalf("Recent(c) = %v", got)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	exerciseStore(t, NewRedis(client))
	if ttl := mr.TTL(keyPrefix + "u@x.com"); ttl <= 0 {
		t.Fatalf("TTL = %v, want expiry set", ttl)
	}
}

func TestMerge(t *testing.T) {
	got := Merge([]string{"a", "", "b"}, []string{"b", "c"})
	if fmt.Sprint(got) != "[a b c]" {
		t.Fatalf("Merge = %v, want [a b c]", got)
	}

	long := Merge([]string{"a", "b", "c", "d", "e"}, []string{"f", "g", "h", "i"})
	if len(long) != Limit || long[0] != "a" || long[Limit-1] != "g" {
		t.Fatalf("Merge = %v, want first %d", long, Limit)
	}
}
