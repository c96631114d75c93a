package backoffice

import (
	"context"
	"errors"
	"fmt"

	"github.com/starford/estatedesk/internal/apperr"
	"github.com/starford/estatedesk/internal/models"
)

// Relations returns the relation catalog.
func (s *Service) Relations() []models.Relation {
	return models.Relations()
}

// Relation looks up a relation by name.
func (s *Service) Relation(name string) apperr.Result[models.Relation] {
	rel, ok := models.LookupRelation(name)
	if !ok {
		return apperr.Fail[models.Relation](s.failure(linkService, apperr.OpFetch,
			fmt.Errorf("relation %q: %w", name, apperr.ErrNotFound)))
	}
	return apperr.OK(rel)
}

// FetchRelated returns the targets linked to source under relation.
func (s *Service) FetchRelated(ctx context.Context, relation, source string) apperr.Result[[]models.Summary] {
	rel, ok := models.LookupRelation(relation)
	if !ok {
		return apperr.Fail[[]models.Summary](s.failure(linkService, apperr.OpFetch,
			fmt.Errorf("relation %q: %w", relation, apperr.ErrNotFound)))
	}
	items, err := s.db.Related(ctx, rel, source)
	if err != nil {
		return apperr.Fail[[]models.Summary](s.failure(linkService, apperr.OpFetch, err))
	}
	return apperr.OK(items)
}

// Referrers returns the sources that link to target under relation, the
// reverse of FetchRelated.
func (s *Service) Referrers(ctx context.Context, relation, target string) apperr.Result[[]models.Summary] {
	rel, ok := models.LookupRelation(relation)
	if !ok {
		return apperr.Fail[[]models.Summary](s.failure(linkService, apperr.OpFetch,
			fmt.Errorf("relation %q: %w", relation, apperr.ErrNotFound)))
	}
	items, err := s.db.Referrers(ctx, rel, target)
	if err != nil {
		return apperr.Fail[[]models.Summary](s.failure(linkService, apperr.OpFetch, err))
	}
	return apperr.OK(items)
}

// Candidates returns every entity of the relation's target kind.
func (s *Service) Candidates(ctx context.Context, relation string) apperr.Result[[]models.Summary] {
	rel, ok := models.LookupRelation(relation)
	if !ok {
		return apperr.Fail[[]models.Summary](s.failure(linkService, apperr.OpFetch,
			fmt.Errorf("relation %q: %w", relation, apperr.ErrNotFound)))
	}
	return s.Summaries(ctx, rel.Target)
}

// Assign links target to source under relation. Both entities must exist.
// Assigning an existing link succeeds without change.
func (s *Service) Assign(ctx context.Context, relation, source, target string) apperr.Result[struct{}] {
	rel, err := s.checkPair(ctx, relation, source, target)
	if err != nil {
		return apperr.Fail[struct{}](s.failure(linkService, apperr.OpUpdate, err))
	}
	created, err := s.db.AddLink(ctx, rel.Name, source, target)
	if err != nil {
		return apperr.Fail[struct{}](s.failure(linkService, apperr.OpUpdate, err))
	}
	if created {
		s.publish(Event{Type: EventLinkAssigned, Relation: rel.Name, Source: source, Target: target})
	}
	return apperr.OK(struct{}{})
}

// Remove unlinks target from source under relation. Removing an absent
// link succeeds without change.
func (s *Service) Remove(ctx context.Context, relation, source, target string) apperr.Result[struct{}] {
	rel, ok := models.LookupRelation(relation)
	if !ok {
		return apperr.Fail[struct{}](s.failure(linkService, apperr.OpUpdate,
			fmt.Errorf("relation %q: %w", relation, apperr.ErrNotFound)))
	}
	if source == "" || target == "" {
		return apperr.Fail[struct{}](s.failure(linkService, apperr.OpUpdate,
			fmt.Errorf("source and target are required: %w", apperr.ErrValidation)))
	}
	existed, err := s.db.RemoveLink(ctx, rel.Name, source, target)
	if err != nil {
		return apperr.Fail[struct{}](s.failure(linkService, apperr.OpUpdate, err))
	}
	if existed {
		s.publish(Event{Type: EventLinkRemoved, Relation: rel.Name, Source: source, Target: target})
	}
	return apperr.OK(struct{}{})
}

func (s *Service) checkPair(ctx context.Context, relation, source, target string) (models.Relation, error) {
	rel, ok := models.LookupRelation(relation)
	if !ok {
		return models.Relation{}, fmt.Errorf("relation %q: %w", relation, apperr.ErrNotFound)
	}
	if source == "" || target == "" {
		return models.Relation{}, fmt.Errorf("source and target are required: %w", apperr.ErrValidation)
	}
	if _, err := s.db.GetEntity(ctx, rel.Source, source); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.Relation{}, fmt.Errorf("source %s %s: %w", rel.Source, source, apperr.ErrNotFound)
		}
		return models.Relation{}, err
	}
	if _, err := s.db.GetEntity(ctx, rel.Target, target); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.Relation{}, fmt.Errorf("target %s %s: %w", rel.Target, target, apperr.ErrNotFound)
		}
		return models.Relation{}, err
	}
	return rel, nil
}

// Linker binds one relation of the service to the linking engine.
type Linker struct {
	svc      *Service
	relation string
}

// Linker returns the linking.Relation adapter for relation.
func (s *Service) Linker(relation string) *Linker {
	return &Linker{svc: s, relation: relation}
}

// FetchRelated implements linking.Relation.
func (l *Linker) FetchRelated(ctx context.Context, sourceID string) apperr.Result[[]models.Summary] {
	return l.svc.FetchRelated(ctx, l.relation, sourceID)
}

// Assign implements linking.Relation.
func (l *Linker) Assign(ctx context.Context, sourceID, targetID string) apperr.Result[struct{}] {
	return l.svc.Assign(ctx, l.relation, sourceID, targetID)
}

// Remove implements linking.Relation.
func (l *Linker) Remove(ctx context.Context, sourceID, targetID string) apperr.Result[struct{}] {
	return l.svc.Remove(ctx, l.relation, sourceID, targetID)
}
