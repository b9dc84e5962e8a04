package policyfile

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Watch re-reads the backing file whenever it is rewritten on disk, so
// out-of-band edits to the policy document take effect without a restart.
// Blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: atomic rename-into-place (our
	// own persist does this too) drops a watch registered on the path.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("policy watcher: %w", err)
	}

	base := filepath.Base(s.path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					if err := s.Reload(); err != nil {
						log.Printf("policy reload failed: %v", err)
					}
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("policy watcher: %v", err)
		}
	}
}
