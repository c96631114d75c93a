package store

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/estatedesk/internal/apperr"
	"github.com/starford/estatedesk/internal/models"
	"github.com/starford/estatedesk/internal/storage"
)

// EventCallback is called after a watcher-driven attachment change.
// kind is one of "created", "updated", "deleted"; name is the file name.
type EventCallback func(kind string, name string)

const settleDelay = 200 * time.Millisecond

// WatchFiles watches the files directory and keeps attachment records in
// sync until ctx is cancelled. Writes are debounced per file so a large copy
// is registered once it settles; renames trigger a full SyncFiles pass.
func WatchFiles(ctx context.Context, db *DB, files storage.Provider, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(files.Root()); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", files.Root()))

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(settleDelay / 2)
	defer ticker.Stop()
	resync := false

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case now := <-ticker.C:
			if resync {
				resync = false
				if err := SyncFiles(ctx, db, files, logger, cb); err != nil {
					logger.Warn("watcher: resync failed", slog.String("error", err.Error()))
				}
			}
			for name, at := range pending {
				if now.Sub(at) < settleDelay {
					continue
				}
				delete(pending, name)
				registerFile(ctx, db, files, name, logger, cb)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if storage.IsHidden(name) {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				pending[name] = time.Now()
			case ev.Op&fsnotify.Remove != 0:
				delete(pending, name)
				removeFile(ctx, db, name, logger, cb)
			case ev.Op&fsnotify.Rename != 0:
				// fsnotify reports the old name only; the new one arrives as Create.
				delete(pending, name)
				removeFile(ctx, db, name, logger, cb)
				resync = true
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func registerFile(ctx context.Context, db *DB, files storage.Provider, name string, logger *slog.Logger, cb EventCallback) {
	fi, err := files.Stat(name)
	if err != nil {
		logger.Debug("watcher: stat failed", slog.String("file", name), slog.String("error", err.Error()))
		return
	}
	known := map[string]string{}
	if cur, err := db.GetEntity(ctx, models.KindAttachment, name); err == nil {
		known[name] = cur.Checksum
	}
	kind, err := upsertAttachment(ctx, db, fi, known)
	if err != nil {
		logger.Warn("watcher: register failed", slog.String("file", name), slog.String("error", err.Error()))
		return
	}
	if kind == "" {
		return
	}
	logger.Debug("watcher: registered", slog.String("file", name), slog.String("op", kind))
	if cb != nil {
		cb(kind, name)
	}
}

func removeFile(ctx context.Context, db *DB, name string, logger *slog.Logger, cb EventCallback) {
	err := db.DeleteEntity(ctx, models.KindAttachment, name)
	if errors.Is(err, apperr.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Warn("watcher: delete failed", slog.String("file", name), slog.String("error", err.Error()))
		return
	}
	logger.Debug("watcher: deleted", slog.String("file", name))
	if cb != nil {
		cb("deleted", name)
	}
}
