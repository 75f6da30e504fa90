package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileSource serves snapshots from a YAML dataset file and reloads it when
// the file changes. Readers always see a complete dataset: a reload that
// fails to parse keeps the previous one.
type FileSource struct {
	path    string
	current atomic.Pointer[Dataset]
	watcher *fsnotify.Watcher
	done    chan struct{}

	// onReload is called after every reload attempt. Used by tests.
	onReload func(error)
}

// OpenFile loads path and starts watching it. Call Close to stop watching.
func OpenFile(path string) (*FileSource, error) {
	ds, err := ReadDataset(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	// Watch the directory: editors often replace the file instead of writing it.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", path, err)
	}

	fs := &FileSource{path: path, watcher: w, done: make(chan struct{})}
	fs.current.Store(ds)
	go fs.watch()
	return fs, nil
}

func (fs *FileSource) watch() {
	defer close(fs.done)
	target := filepath.Clean(fs.path)
	for {
		select {
		case ev, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			fs.reload()
		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("dataset watcher error", "path", fs.path, "error", err)
		}
	}
}

func (fs *FileSource) reload() {
	ds, err := ReadDataset(fs.path)
	if err != nil {
		slog.Warn("dataset reload failed, keeping previous", "path", fs.path, "error", err)
	} else {
		fs.current.Store(ds)
		slog.Debug("dataset reloaded", "path", fs.path, "documents", len(ds.Documents))
	}
	if fs.onReload != nil {
		fs.onReload(err)
	}
}

// Close stops watching the file.
func (fs *FileSource) Close() error {
	err := fs.watcher.Close()
	<-fs.done
	if errors.Is(err, fsnotify.ErrClosed) {
		return nil
	}
	return err
}

func (fs *FileSource) Snapshot(_ context.Context, scope Scope) (*Snapshot, error) {
	return fs.current.Load().snapshot(scope), nil
}

func (fs *FileSource) ExpiringDocuments(_ context.Context, scope Scope, from, to time.Time) ([]Document, error) {
	return fs.current.Load().expiring(scope, from, to), nil
}

func (fs *FileSource) SharedDocuments(_ context.Context, scope Scope, userID string, dir ShareDirection) ([]SharedDocument, error) {
	return fs.current.Load().shared(scope, userID, dir), nil
}

func (fs *FileSource) CategoriesByNFC(_ context.Context, scope Scope, registered bool) ([]Category, error) {
	return fs.current.Load().categoriesByNFC(scope, registered), nil
}
