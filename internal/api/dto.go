package api

import (
	"github.com/starford/estatedesk/internal/backoffice"
	"github.com/starford/estatedesk/internal/models"
)

// Entity is the entity response type (aliased from the domain layer).
type Entity = models.Entity

// EntityListResponse wraps paginated entity listings.
type EntityListResponse = backoffice.Page

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []models.Summary `json:"results" validate:"required"`
}

// RelationListResponse wraps the relation catalog.
type RelationListResponse struct {
	Relations []models.Relation `json:"relations" validate:"required"`
}

// ReferrersResponse lists the sources that link to a target.
type ReferrersResponse struct {
	Relation string           `json:"relation" example:"memo-properties" validate:"required"`
	Target   string           `json:"target" validate:"required"`
	Items    []models.Summary `json:"items" validate:"required"`
}

// RelatedResponse lists the targets linked to a source.
type RelatedResponse struct {
	Relation string           `json:"relation" example:"memo-properties" validate:"required"`
	Source   string           `json:"source" validate:"required"`
	Items    []models.Summary `json:"items" validate:"required"`
}
