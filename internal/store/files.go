package store

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"path/filepath"
	"time"

	"github.com/starford/estatedesk/internal/apperr"
	"github.com/starford/estatedesk/internal/models"
	"github.com/starford/estatedesk/internal/storage"
)

// AttachmentEntity builds the attachment record describing a stored file.
func AttachmentEntity(fi storage.FileInfo, now time.Time) (models.Entity, error) {
	ct := mime.TypeByExtension(filepath.Ext(fi.Name))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return models.BuildAttachment(models.Attachment{
		Filename:    fi.Name,
		Size:        fi.Size,
		Checksum:    fi.Checksum,
		ContentType: ct,
	}, now)
}

// upsertAttachment registers or refreshes the record for fi. It returns
// "created", "updated" or "" when the record was already current.
func upsertAttachment(ctx context.Context, db *DB, fi storage.FileInfo, known map[string]string) (string, error) {
	e, err := AttachmentEntity(fi, time.Now())
	if err != nil {
		return "", err
	}
	cs, exists := known[fi.Name]
	switch {
	case exists && cs == e.Checksum:
		return "", nil
	case exists:
		if _, err := db.UpdateEntity(ctx, e, ""); err != nil {
			return "", err
		}
		return "updated", nil
	default:
		if err := db.InsertEntity(ctx, e); err != nil {
			if errors.Is(err, apperr.ErrAlreadyExists) {
				return "", nil
			}
			return "", err
		}
		return "created", nil
	}
}

// SyncFiles brings attachment records in line with the files directory:
//   - new/changed files are registered
//   - records whose file disappeared are deleted along with their links
func SyncFiles(ctx context.Context, db *DB, files storage.Provider, logger *slog.Logger, cb EventCallback) error {
	infos, err := files.List()
	if err != nil {
		return err
	}
	known, err := db.Checksums(ctx, models.KindAttachment)
	if err != nil {
		return err
	}

	onDisk := make(map[string]struct{}, len(infos))
	for _, fi := range infos {
		onDisk[fi.Name] = struct{}{}
		kind, err := upsertAttachment(ctx, db, fi, known)
		if err != nil {
			logger.Warn("sync: register failed", slog.String("file", fi.Name), slog.String("error", err.Error()))
			continue
		}
		if kind != "" {
			logger.Debug("sync: registered", slog.String("file", fi.Name), slog.String("op", kind))
			if cb != nil {
				cb(kind, fi.Name)
			}
		}
	}

	for name := range known {
		if _, ok := onDisk[name]; ok {
			continue
		}
		if err := db.DeleteEntity(ctx, models.KindAttachment, name); err != nil {
			logger.Warn("sync: delete failed", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: removed stale", slog.String("file", name))
		if cb != nil {
			cb("deleted", name)
		}
	}
	return nil
}
