package rbac

import (
	"context"
	"testing"
	"time"
)

// BenchmarkPermissionChecker_CacheHit measures the guarded-route fast path
func BenchmarkPermissionChecker_CacheHit(b *testing.B) {
	store, mock := newMockStore(b)
	pc := NewPermissionChecker(store, 100, time.Hour, nil)
	ctx := context.Background()

	expectCodes(mock, "u1", "user:read", "user:list", "user:update", "role:manage")
	if _, err := pc.HasPermissions(ctx, "u1", "user:read"); err != nil {
		b.Fatalf("warm cache: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if ok, _ := pc.HasPermissions(ctx, "u1", "user:read", "role:manage"); !ok {
			b.Fatal("expected permission")
		}
	}
}
