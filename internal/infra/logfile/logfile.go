// Package logfile persists the transparency log as a single JSON document:
// the ordered entry list plus the next-index counter. The whole document is
// rewritten on every append and reloaded in full at construction, so a
// reload reconstructs identical indexes and ordering.
package logfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"

	"provd/internal/domain"
)

type document struct {
	Entries   []domain.LogEntry `json:"entries"`
	NextIndex int64             `json:"next_index"`
}

// Store is a file-backed transparency log. Append holds the write lock
// across index assignment and persistence, so two concurrent appends can
// never claim the same index.
type Store struct {
	mu        sync.RWMutex
	path      string
	clock     func() time.Time
	entries   []domain.LogEntry
	nextIndex int64
}

func New(path string) (*Store, error) {
	return NewWithClock(path, time.Now)
}

func NewWithClock(path string, clock func() time.Time) (*Store, error) {
	if clock == nil {
		clock = time.Now
	}
	s := &Store{path: path, clock: clock}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Append assigns the next index, stamps the observation time, and persists
// the full log before returning. A failed persist leaves the in-memory
// state untouched rather than diverging from disk.
func (s *Store) Append(ctx context.Context, entry domain.LogEntry) (int64, error) {
	if err := entry.Validate(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.LogIndex = s.nextIndex
	entry.LoggedAt = s.clock().UTC()
	s.entries = append(s.entries, entry)
	s.nextIndex++

	if err := s.persistLocked(); err != nil {
		s.entries = s.entries[:len(s.entries)-1]
		s.nextIndex--
		return 0, err
	}
	return entry.LogIndex, nil
}

// FindByHash returns the entry whose artifact hash exactly matches, or
// domain.ErrNotFound. Lookup is by content digest, never by name: a mirror
// can rename or repackage but cannot forge a matching digest.
func (s *Store) FindByHash(ctx context.Context, hash digest.Digest) (*domain.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.entries {
		if s.entries[i].ArtifactHash == hash {
			entry := s.entries[i]
			return &entry, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) FindByIdentity(ctx context.Context, identity string) ([]domain.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.LogEntry
	for _, e := range s.entries {
		if e.SignerIdentity == identity {
			out = append(out, e)
		}
	}
	return out, nil
}

// FindByPackage returns all entries of the package family, newest signing
// time first. Matching is by normalized family name so versioned and trial
// variants of one package land in the same history.
func (s *Store) FindByPackage(ctx context.Context, packageName string) ([]domain.LogEntry, error) {
	family := domain.NormalizePackage(packageName)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.LogEntry
	for _, e := range s.entries {
		if domain.NormalizePackage(e.PackageName) == family {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SigningTime.After(out[j].SigningTime)
	})
	return out, nil
}

// FindNewerThan returns same-family entries signed strictly after the
// given time. Rollback detection keys off the embedded signing time, not
// the log index: append order reflects observation, not authorship, and an
// attacker could log an old artifact late.
func (s *Store) FindNewerThan(ctx context.Context, packageName string, signingTime time.Time) ([]domain.LogEntry, error) {
	entries, err := s.FindByPackage(ctx, packageName)
	if err != nil {
		return nil, err
	}
	var newer []domain.LogEntry
	for _, e := range entries {
		if e.SigningTime.After(signingTime) {
			newer = append(newer, e)
		}
	}
	return newer, nil
}

// Reset clears all entries and restarts the index counter. Test isolation
// only; never called in normal operation.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prevEntries, prevNext := s.entries, s.nextIndex
	s.entries = nil
	s.nextIndex = 0
	if err := s.persistLocked(); err != nil {
		s.entries, s.nextIndex = prevEntries, prevNext
		return err
	}
	return nil
}

// Len reports the number of entries currently in the log.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read transparency log: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode transparency log: %w", err)
	}
	s.entries = doc.Entries
	s.nextIndex = doc.NextIndex
	return nil
}

func (s *Store) persistLocked() error {
	doc := document{Entries: s.entries, NextIndex: s.nextIndex}
	if doc.Entries == nil {
		doc.Entries = []domain.LogEntry{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transparency log: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".log-*")
	if err != nil {
		return fmt.Errorf("persist transparency log: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("persist transparency log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("persist transparency log: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("persist transparency log: %w", err)
	}
	return nil
}
