package treeindex

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Store holds the current Index. Readers never block; a reload swaps the whole
// index at once.
type Store struct {
	cur atomic.Pointer[Index]
}

func NewStore(ix *Index) *Store {
	s := &Store{}
	s.cur.Store(ix)
	return s
}

// Index returns the current index.
func (s *Store) Index() *Index {
	return s.cur.Load()
}

// Replace installs ix.
func (s *Store) Replace(ix *Index) {
	s.cur.Store(ix)
}

// debounce absorbs the burst of events a single save produces.
const debounce = 200 * time.Millisecond

// Watch reloads path into s whenever the file changes, until ctx ends. A file
// that fails to load is logged and the previous index stays in place.
func Watch(ctx context.Context, path string, s *Store, logger zerolog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: editors often replace the file rather than write it.
	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Str("path", path).Msg("data file watch error")
		case <-timer.C:
			ix, err := Load(path)
			if err != nil {
				logger.Error().Err(err).Str("path", path).Msg("reloading tree data failed, keeping previous index")
				continue
			}
			s.Replace(ix)
			logger.Info().Int("trees", ix.Len()).Str("path", path).Msg("tree data reloaded")
		}
	}
}
