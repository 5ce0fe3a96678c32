package policy

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const settleDelay = 50 * time.Millisecond

type snapshot struct {
	policy  *Policy
	modTime time.Time
	size    int64
}

// Store holds the current policy in an atomically swapped cell. The cell is
// refreshed by a file watcher, by a modification check on read once the
// check interval has passed, or by an explicit Reload.
type Store struct {
	path          string
	checkInterval time.Duration

	current   atomic.Pointer[snapshot]
	lastCheck atomic.Int64

	mu        sync.Mutex
	listeners []func(*Policy)

	log *zap.Logger
	now func() time.Time
}

func NewStore(path string, checkInterval time.Duration, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		path:          path,
		checkInterval: checkInterval,
		log:           log.Named("policy"),
		now:           time.Now,
	}
	s.current.Store(&snapshot{policy: Empty()})
	if _, err := s.Reload(); err != nil {
		s.log.Warn("initial policy load failed, using empty policy", zap.String("path", path), zap.Error(err))
	}
	s.lastCheck.Store(s.now().UnixNano())
	return s
}

// OnChange registers fn to run after every policy swap.
func (s *Store) OnChange(fn func(*Policy)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Current returns the cached policy, checking the source for changes at
// most once per check interval.
func (s *Store) Current() *Policy {
	if s.checkInterval > 0 {
		now := s.now().UnixNano()
		last := s.lastCheck.Load()
		if now-last >= int64(s.checkInterval) && s.lastCheck.CompareAndSwap(last, now) {
			s.refresh()
		}
	}
	return s.current.Load().policy
}

// Reload reads the source unconditionally. On a parse error the previous
// policy stays in place and the error is returned.
func (s *Store) Reload() (*Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	info, err := os.Stat(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if cur.modTime.IsZero() {
			return
		}
	case err != nil:
		s.log.Warn("stat policy failed", zap.Error(err))
		return
	case info.ModTime().Equal(cur.modTime) && info.Size() == cur.size:
		return
	}

	if _, err := s.loadLocked(); err != nil {
		s.log.Warn("policy reload failed, keeping previous", zap.String("version", cur.policy.Version), zap.Error(err))
	}
}

func (s *Store) loadLocked() (*Policy, error) {
	if s.path == "" {
		return s.swap(&snapshot{policy: Empty()}), nil
	}

	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s.swap(&snapshot{policy: Empty()}), nil
	}
	if err != nil {
		return s.current.Load().policy, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return s.current.Load().policy, err
	}
	p, err := Parse(data)
	if err != nil {
		return s.current.Load().policy, err
	}
	return s.swap(&snapshot{policy: p, modTime: info.ModTime(), size: info.Size()}), nil
}

func (s *Store) swap(next *snapshot) *Policy {
	prev := s.current.Swap(next)
	if prev == nil || prev.policy.Version != next.policy.Version {
		s.log.Info("policy loaded",
			zap.String("version", next.policy.Version),
			zap.Int("markets", len(next.policy.PerMarketRPS)))
		for _, fn := range s.listeners {
			fn(next.policy)
		}
	}
	return next.policy
}

// Run watches the policy file until ctx is done. When the watcher cannot be
// created it falls back to polling at the check interval.
func (s *Store) Run(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warn("policy watcher unavailable, polling instead", zap.Error(err))
		return s.poll(ctx)
	}
	defer watcher.Close()

	// watch the directory so editors that replace the file are seen
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		s.log.Warn("policy watch failed, polling instead", zap.Error(err))
		return s.poll(ctx)
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				time.Sleep(settleDelay)
				s.refresh()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("policy watcher error", zap.Error(err))
		}
	}
}

func (s *Store) poll(ctx context.Context) error {
	interval := s.checkInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.refresh()
		}
	}
}
