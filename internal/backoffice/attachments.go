package backoffice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/estatedesk/internal/apperr"
	"github.com/starford/estatedesk/internal/models"
	"github.com/starford/estatedesk/internal/store"
	"github.com/starford/estatedesk/internal/storage"
)

const attachmentService = "AttachmentService"

// MaxAttachmentBytes bounds a single stored file.
const MaxAttachmentBytes = 50 << 20

// SaveAttachment stores content under a sanitised form of filename and
// registers the attachment record. When relation and source are both set
// the new attachment is linked to source; if that link fails the file and
// record are removed again so the upload can be retried. An existing file
// is never overwritten.
func (s *Service) SaveAttachment(ctx context.Context, filename string, content []byte, relation, source string) apperr.Result[models.Entity] {
	name := storage.SanitizeName(filename)
	if name == "" {
		return apperr.Fail[models.Entity](s.failure(attachmentService, apperr.OpCreate,
			fmt.Errorf("invalid filename %q: %w", filename, apperr.ErrValidation)))
	}
	if len(content) > MaxAttachmentBytes {
		return apperr.Fail[models.Entity](s.failure(attachmentService, apperr.OpCreate,
			fmt.Errorf("file too large: %d bytes (max %d): %w", len(content), MaxAttachmentBytes, apperr.ErrValidation)))
	}
	if relation != "" {
		rel, ok := models.LookupRelation(relation)
		if !ok || rel.Target != models.KindAttachment {
			return apperr.Fail[models.Entity](s.failure(attachmentService, apperr.OpCreate,
				fmt.Errorf("relation %q does not link attachments: %w", relation, apperr.ErrValidation)))
		}
		if _, err := s.db.GetEntity(ctx, rel.Source, source); err != nil {
			return apperr.Fail[models.Entity](s.failure(attachmentService, apperr.OpCreate, err))
		}
	}
	if _, err := s.files.Stat(name); err == nil {
		return apperr.Fail[models.Entity](s.failure(attachmentService, apperr.OpCreate,
			fmt.Errorf("file %s: %w", name, apperr.ErrAlreadyExists)))
	}

	if err := s.files.Write(name, content); err != nil {
		return apperr.Fail[models.Entity](s.failure(attachmentService, apperr.OpCreate, err))
	}
	fi, err := s.files.Stat(name)
	if err != nil {
		return apperr.Fail[models.Entity](s.failure(attachmentService, apperr.OpCreate, err))
	}
	e, err := store.AttachmentEntity(fi, s.now())
	if err != nil {
		_ = s.files.Delete(name)
		return apperr.Fail[models.Entity](s.failure(attachmentService, apperr.OpCreate, err))
	}
	switch err := s.db.InsertEntity(ctx, e); {
	case errors.Is(err, apperr.ErrAlreadyExists):
		// The files watcher registered it first.
	case err != nil:
		_ = s.files.Delete(name)
		return apperr.Fail[models.Entity](s.failure(attachmentService, apperr.OpCreate, err))
	default:
		s.publish(Event{Type: EventEntityCreated, Kind: models.KindAttachment, ID: e.ID})
	}

	if relation != "" {
		if res := s.Assign(ctx, relation, source, e.ID); res.IsFailure() {
			se, _ := res.Failure()
			s.discardAttachment(ctx, name)
			return apperr.Fail[models.Entity](se)
		}
	}
	return apperr.OK(e)
}

// discardAttachment undoes a partially saved attachment.
func (s *Service) discardAttachment(ctx context.Context, name string) {
	switch err := s.db.DeleteEntity(ctx, models.KindAttachment, name); {
	case err == nil:
		s.publish(Event{Type: EventEntityDeleted, Kind: models.KindAttachment, ID: name})
	case !errors.Is(err, apperr.ErrNotFound):
		s.logger.Warn("backoffice: discard attachment record failed", slog.String("file", name), slog.String("error", err.Error()))
	}
	if err := s.files.Delete(name); err != nil {
		s.logger.Warn("backoffice: discard attachment file failed", slog.String("file", name), slog.String("error", err.Error()))
	}
}

// AttachmentPath resolves the on-disk path of a stored attachment.
func (s *Service) AttachmentPath(name string) apperr.Result[string] {
	if _, err := s.files.Stat(name); err != nil {
		return apperr.Fail[string](s.failure(attachmentService, apperr.OpFetch,
			fmt.Errorf("file %s: %w", name, apperr.ErrNotFound)))
	}
	p, err := s.files.Path(name)
	if err != nil {
		return apperr.Fail[string](s.failure(attachmentService, apperr.OpFetch, err))
	}
	return apperr.OK(p)
}

// SyncFiles reconciles attachment records with the files directory.
func (s *Service) SyncFiles(ctx context.Context) error {
	return store.SyncFiles(ctx, s.db, s.files, s.logger, s.fileEvent)
}

// WatchFiles keeps attachment records in sync until ctx is done.
func (s *Service) WatchFiles(ctx context.Context) error {
	return store.WatchFiles(ctx, s.db, s.files, s.logger, s.fileEvent)
}

func (s *Service) fileEvent(kind, name string) {
	typ := EventEntityUpdated
	switch kind {
	case "created":
		typ = EventEntityCreated
	case "deleted":
		typ = EventEntityDeleted
	}
	s.publish(Event{Type: typ, Kind: models.KindAttachment, ID: name})
}
