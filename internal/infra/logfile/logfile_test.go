package logfile

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"provd/internal/domain"
)

var testClock = func() time.Time { return time.Unix(1700000000, 0).UTC() }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewWithClock(filepath.Join(t.TempDir(), "transparency_log.json"), testClock)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func testEntry(pkg, identity string, content []byte, signedAt time.Time) domain.LogEntry {
	return domain.LogEntry{
		PackageName:    pkg,
		ArtifactHash:   domain.HashArtifact(content),
		SignerIdentity: identity,
		SigningTime:    signedAt,
		CertValidFrom:  signedAt.Add(-time.Minute),
		CertValidUntil: signedAt.Add(10 * time.Minute),
	}
}

func TestAppendAssignsStrictlyIncreasingIndexes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1690000000, 0).UTC()

	for i := 0; i < 5; i++ {
		idx, err := store.Append(ctx, testEntry("pkg_a", "a@example.com", []byte{byte(i)}, base.Add(time.Duration(i)*time.Second)))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if idx != int64(i) {
			t.Fatalf("append %d: got index %d", i, idx)
		}
	}

	if err := store.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	idx, err := store.Append(ctx, testEntry("pkg_a", "a@example.com", []byte("fresh"), base))
	if err != nil {
		t.Fatalf("append after reset: %v", err)
	}
	if idx != 0 {
		t.Fatalf("expected index 0 after reset, got %d", idx)
	}
}

func TestAppendConcurrentIndexesUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1690000000, 0).UTC()

	const n = 32
	indexes := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx, err := store.Append(ctx, testEntry("pkg_a", "a@example.com", []byte{byte(i)}, base))
			if err != nil {
				t.Errorf("append: %v", err)
				return
			}
			indexes[i] = idx
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, idx := range indexes {
		if seen[idx] {
			t.Fatalf("duplicate index %d", idx)
		}
		seen[idx] = true
	}
}

func TestReloadReconstructsIndexesAndOrdering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transparency_log.json")
	store, err := NewWithClock(path, testClock)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	base := time.Unix(1690000000, 0).UTC()

	for i := 0; i < 3; i++ {
		if _, err := store.Append(ctx, testEntry("pkg_a", "a@example.com", []byte{byte(i)}, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	reloaded, err := NewWithClock(path, testClock)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	entries, err := reloaded.FindByPackage(ctx, "pkg_a")
	if err != nil {
		t.Fatalf("find by package: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries after reload, got %d", len(entries))
	}
	// Newest first; indexes must survive the roundtrip.
	if entries[0].LogIndex != 2 || entries[2].LogIndex != 0 {
		t.Fatalf("unexpected indexes after reload: %d, %d", entries[0].LogIndex, entries[2].LogIndex)
	}

	idx, err := reloaded.Append(ctx, testEntry("pkg_a", "a@example.com", []byte("next"), base.Add(time.Hour)))
	if err != nil {
		t.Fatalf("append after reload: %v", err)
	}
	if idx != 3 {
		t.Fatalf("expected counter to continue at 3, got %d", idx)
	}
}

func TestFindByHashExactMatchOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1690000000, 0).UTC()

	logged := []byte("legitimate content")
	if _, err := store.Append(ctx, testEntry("mirror_pkg", "mirror-maintainer@cdn.org", logged, base)); err != nil {
		t.Fatalf("append: %v", err)
	}

	entry, err := store.FindByHash(ctx, domain.HashArtifact(logged))
	if err != nil {
		t.Fatalf("find logged hash: %v", err)
	}
	if entry.PackageName != "mirror_pkg" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	// Same package name, different bytes: the mirror-attack case. The
	// lookup must miss even though the name was logged.
	if _, err := store.FindByHash(ctx, domain.HashArtifact([]byte("tampered content"))); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound for substituted bytes, got %v", err)
	}
}

func TestFindByIdentity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1690000000, 0).UTC()

	for i, identity := range []string{"a@example.com", "b@example.com", "a@example.com"} {
		if _, err := store.Append(ctx, testEntry("pkg", identity, []byte{byte(i)}, base)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	entries, err := store.FindByIdentity(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("find by identity: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestFindByPackageMatchesFamilyNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1690000000, 0).UTC()

	variants := []struct {
		name     string
		signedAt time.Time
	}{
		{"mypackage_v1_1", base},
		{"mypackage_v1_2", base.Add(time.Hour)},
		{"otherpkg", base.Add(2 * time.Hour)},
	}
	for i, v := range variants {
		if _, err := store.Append(ctx, testEntry(v.name, "a@example.com", []byte{byte(i)}, v.signedAt)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := store.FindByPackage(ctx, "mypackage")
	if err != nil {
		t.Fatalf("find by package: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 family entries, got %d", len(entries))
	}
	if !entries[0].SigningTime.After(entries[1].SigningTime) {
		t.Fatalf("expected newest-first ordering")
	}
}

func TestFindNewerThanIsStrict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Unix(1690000000, 0).UTC()

	for i, offset := range []time.Duration{0, time.Hour, 2 * time.Hour} {
		if _, err := store.Append(ctx, testEntry("mypackage", "a@example.com", []byte{byte(i)}, base.Add(offset))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	newer, err := store.FindNewerThan(ctx, "mypackage", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("find newer: %v", err)
	}
	if len(newer) != 1 {
		t.Fatalf("expected exactly the strictly newer entry, got %d", len(newer))
	}
	if !newer[0].SigningTime.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("unexpected entry: %+v", newer[0])
	}
}

func TestAppendRejectsInvalidEntry(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Append(context.Background(), domain.LogEntry{PackageName: "pkg"})
	if err != domain.ErrInvalidEntry {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
}
