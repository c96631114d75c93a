// Package backoffice is the service layer: it validates input, persists
// entities and links, and returns every outcome as an apperr.Result.
package backoffice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/estatedesk/internal/apperr"
	"github.com/starford/estatedesk/internal/models"
	"github.com/starford/estatedesk/internal/store"
	"github.com/starford/estatedesk/internal/storage"
)

// Event types published after successful mutations.
const (
	EventEntityCreated = "entity.created"
	EventEntityUpdated = "entity.updated"
	EventEntityDeleted = "entity.deleted"
	EventLinkAssigned  = "link.assigned"
	EventLinkRemoved   = "link.removed"
)

// Event describes a change. Entity events set Kind and ID; link events set
// Relation, Source and Target.
type Event struct {
	Type     string      `json:"type"`
	Kind     models.Kind `json:"kind,omitempty"`
	ID       string      `json:"id,omitempty"`
	Relation string      `json:"relation,omitempty"`
	Source   string      `json:"source,omitempty"`
	Target   string      `json:"target,omitempty"`
}

// Page is one page of a listing.
type Page struct {
	Items  []models.Entity `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithEvents registers fn to receive change events.
func WithEvents(fn func(Event)) Option {
	return func(s *Service) { s.onEvent = fn }
}

// Service coordinates the store and the files directory.
type Service struct {
	db      *store.DB
	files   storage.Provider
	logger  *slog.Logger
	onEvent func(Event)
	now     func() time.Time
}

// NewService creates a new back-office service.
func NewService(db *store.DB, files storage.Provider, opts ...Option) *Service {
	s := &Service{
		db:     db,
		files:  files,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServiceName returns the name reported in errors for kind, e.g.
// "PropertyService".
func ServiceName(kind models.Kind) string {
	k := string(kind)
	if k == "" {
		return "EntityService"
	}
	return strings.ToUpper(k[:1]) + k[1:] + "Service"
}

const linkService = "LinkService"

func (s *Service) publish(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

func (s *Service) failure(service string, op apperr.Op, err error) *apperr.ServiceError {
	se := apperr.Normalize(service, op, err)
	if se.Category() == apperr.CategoryTechnical || se.Category() == apperr.CategoryUnexpected {
		s.logger.Error("backoffice: operation failed",
			slog.String("service", service),
			slog.String("code", se.Code()),
			slog.String("error", se.Error()))
	}
	return se
}

func parseKind(raw string) (models.Kind, error) {
	kind, ok := models.ParseKind(raw)
	if !ok {
		return "", fmt.Errorf("unknown kind %q: %w", raw, apperr.ErrNotFound)
	}
	return kind, nil
}

// Create validates raw as a new record of kind and stores it under a fresh
// UUIDv7 id.
func (s *Service) Create(ctx context.Context, rawKind string, raw []byte) apperr.Result[models.Entity] {
	kind, err := parseKind(rawKind)
	if err != nil {
		return apperr.Fail[models.Entity](s.failure(ServiceName(models.Kind(rawKind)), apperr.OpCreate, err))
	}
	svc := ServiceName(kind)
	id, err := uuid.NewV7()
	if err != nil {
		return apperr.Fail[models.Entity](s.failure(svc, apperr.OpCreate, err))
	}
	e, err := models.Build(kind, id.String(), raw, s.now())
	if err != nil {
		return apperr.Fail[models.Entity](s.failure(svc, apperr.OpCreate, err))
	}
	if err := s.db.InsertEntity(ctx, e); err != nil {
		return apperr.Fail[models.Entity](s.failure(svc, apperr.OpCreate, err))
	}
	s.linkReferences(ctx, e)
	s.publish(Event{Type: EventEntityCreated, Kind: kind, ID: e.ID})
	return apperr.OK(e)
}

// Get returns one entity.
func (s *Service) Get(ctx context.Context, rawKind, id string) apperr.Result[models.Entity] {
	kind, err := parseKind(rawKind)
	if err != nil {
		return apperr.Fail[models.Entity](s.failure(ServiceName(models.Kind(rawKind)), apperr.OpFetch, err))
	}
	e, err := s.db.GetEntity(ctx, kind, id)
	if err != nil {
		return apperr.Fail[models.Entity](s.failure(ServiceName(kind), apperr.OpFetch, err))
	}
	return apperr.OK(e)
}

// Update replaces the payload of an entity. A non-empty ifMatch must match
// the stored checksum.
func (s *Service) Update(ctx context.Context, rawKind, id string, raw []byte, ifMatch string) apperr.Result[models.Entity] {
	kind, err := parseKind(rawKind)
	if err != nil {
		return apperr.Fail[models.Entity](s.failure(ServiceName(models.Kind(rawKind)), apperr.OpUpdate, err))
	}
	svc := ServiceName(kind)
	e, err := models.Build(kind, id, raw, s.now())
	if err != nil {
		return apperr.Fail[models.Entity](s.failure(svc, apperr.OpUpdate, err))
	}
	e, err = s.db.UpdateEntity(ctx, e, ifMatch)
	if err != nil {
		return apperr.Fail[models.Entity](s.failure(svc, apperr.OpUpdate, err))
	}
	s.linkReferences(ctx, e)
	s.publish(Event{Type: EventEntityUpdated, Kind: kind, ID: e.ID})
	return apperr.OK(e)
}

// Delete removes an entity and its links. Deleting an attachment also
// removes the stored file.
func (s *Service) Delete(ctx context.Context, rawKind, id string) apperr.Result[struct{}] {
	kind, err := parseKind(rawKind)
	if err != nil {
		return apperr.Fail[struct{}](s.failure(ServiceName(models.Kind(rawKind)), apperr.OpDelete, err))
	}
	svc := ServiceName(kind)
	if err := s.db.DeleteEntity(ctx, kind, id); err != nil {
		return apperr.Fail[struct{}](s.failure(svc, apperr.OpDelete, err))
	}
	if kind == models.KindAttachment {
		if err := s.files.Delete(id); err != nil {
			s.logger.Warn("backoffice: remove file failed", slog.String("file", id), slog.String("error", err.Error()))
		}
	}
	s.publish(Event{Type: EventEntityDeleted, Kind: kind, ID: id})
	return apperr.OK(struct{}{})
}

// List returns one page of entities.
func (s *Service) List(ctx context.Context, rawKind string, limit, offset int, sort string) apperr.Result[Page] {
	kind, err := parseKind(rawKind)
	if err != nil {
		return apperr.Fail[Page](s.failure(ServiceName(models.Kind(rawKind)), apperr.OpFetch, err))
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	items, total, err := s.db.ListEntities(ctx, store.ListOptions{Kind: kind, Limit: limit, Offset: offset, Sort: sort})
	if err != nil {
		return apperr.Fail[Page](s.failure(ServiceName(kind), apperr.OpFetch, err))
	}
	return apperr.OK(Page{Items: items, Total: total, Limit: limit, Offset: offset})
}

// Search finds entities by label or payload. An empty rawKind searches
// every kind.
func (s *Service) Search(ctx context.Context, rawKind, query string, limit int) apperr.Result[[]models.Summary] {
	var kind models.Kind
	if rawKind != "" {
		k, err := parseKind(rawKind)
		if err != nil {
			return apperr.Fail[[]models.Summary](s.failure(ServiceName(models.Kind(rawKind)), apperr.OpFetch, err))
		}
		kind = k
	}
	if strings.TrimSpace(query) == "" {
		return apperr.Fail[[]models.Summary](s.failure(ServiceName(kind), apperr.OpFetch,
			fmt.Errorf("query is required: %w", apperr.ErrValidation)))
	}
	hits, err := s.db.Search(ctx, kind, query, limit)
	if err != nil {
		return apperr.Fail[[]models.Summary](s.failure(ServiceName(kind), apperr.OpFetch, err))
	}
	return apperr.OK(hits)
}

// Summaries lists every entity of kind in summary form.
func (s *Service) Summaries(ctx context.Context, kind models.Kind) apperr.Result[[]models.Summary] {
	items, err := s.db.Summaries(ctx, kind)
	if err != nil {
		return apperr.Fail[[]models.Summary](s.failure(ServiceName(kind), apperr.OpFetch, err))
	}
	return apperr.OK(items)
}

// linkReferences links a memo to the entities its body references with
// [[kind:id]]. References to missing entities are ignored.
func (s *Service) linkReferences(ctx context.Context, e models.Entity) {
	if e.Kind != models.KindMemo {
		return
	}
	memo, err := models.Decode[models.Memo](e)
	if err != nil {
		return
	}
	for _, ref := range memo.References {
		kindName, id, ok := strings.Cut(ref, ":")
		if !ok {
			continue
		}
		target, ok := models.ParseKind(kindName)
		if !ok {
			continue
		}
		for _, rel := range models.RelationsFor(models.KindMemo) {
			if rel.Source != models.KindMemo || rel.Target != target {
				continue
			}
			if _, err := s.db.GetEntity(ctx, target, id); err != nil {
				if !errors.Is(err, apperr.ErrNotFound) {
					s.logger.Warn("backoffice: resolve reference failed", slog.String("ref", ref), slog.String("error", err.Error()))
				}
				continue
			}
			created, err := s.db.AddLink(ctx, rel.Name, e.ID, id)
			if err != nil {
				s.logger.Warn("backoffice: link reference failed", slog.String("ref", ref), slog.String("error", err.Error()))
				continue
			}
			if created {
				s.publish(Event{Type: EventLinkAssigned, Relation: rel.Name, Source: e.ID, Target: id})
			}
		}
	}
}
