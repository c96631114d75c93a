package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/starford/estatedesk/internal/apperr"
	"github.com/starford/estatedesk/internal/models"
)

// RelationClient drives one relation on the remote server. It satisfies
// linking.Relation[models.Summary].
type RelationClient struct {
	c        *Client
	relation string
}

// Relation returns a client for the named relation.
func (c *Client) Relation(name string) *RelationClient {
	return &RelationClient{c: c, relation: name}
}

func (rc *RelationClient) linkPath(source string, target ...string) string {
	p := "/api/relations/" + url.PathEscape(rc.relation) + "/" + url.PathEscape(source)
	for _, t := range target {
		p += "/" + url.PathEscape(t)
	}
	return p
}

// FetchRelated lists the targets linked to sourceID.
func (rc *RelationClient) FetchRelated(ctx context.Context, sourceID string) apperr.Result[[]models.Summary] {
	var body struct {
		Items []models.Summary `json:"items"`
	}
	r := request{service: linkService, op: apperr.OpFetch, method: http.MethodGet, path: rc.linkPath(sourceID)}
	if se := rc.c.call(ctx, r, &body); se != nil {
		return apperr.Fail[[]models.Summary](se)
	}
	if body.Items == nil {
		body.Items = []models.Summary{}
	}
	return apperr.OK(body.Items)
}

// Assign links targetID to sourceID.
func (rc *RelationClient) Assign(ctx context.Context, sourceID, targetID string) apperr.Result[struct{}] {
	r := request{service: linkService, op: apperr.OpUpdate, method: http.MethodPut, path: rc.linkPath(sourceID, targetID)}
	if se := rc.c.call(ctx, r, nil); se != nil {
		return apperr.Fail[struct{}](se)
	}
	return apperr.OK(struct{}{})
}

// Remove unlinks targetID from sourceID.
func (rc *RelationClient) Remove(ctx context.Context, sourceID, targetID string) apperr.Result[struct{}] {
	r := request{service: linkService, op: apperr.OpUpdate, method: http.MethodDelete, path: rc.linkPath(sourceID, targetID)}
	if se := rc.c.call(ctx, r, nil); se != nil {
		return apperr.Fail[struct{}](se)
	}
	return apperr.OK(struct{}{})
}

// Referrers lists the sources that link to targetID.
func (rc *RelationClient) Referrers(ctx context.Context, targetID string) apperr.Result[[]models.Summary] {
	var body struct {
		Items []models.Summary `json:"items"`
	}
	p := "/api/referrers/" + url.PathEscape(rc.relation) + "/" + url.PathEscape(targetID)
	r := request{service: linkService, op: apperr.OpFetch, method: http.MethodGet, path: p}
	if se := rc.c.call(ctx, r, &body); se != nil {
		return apperr.Fail[[]models.Summary](se)
	}
	if body.Items == nil {
		body.Items = []models.Summary{}
	}
	return apperr.OK(body.Items)
}
