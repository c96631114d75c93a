// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes back-office search and linking tools for LLM integration
// via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/estatedesk/internal/apperr"
	"github.com/starford/estatedesk/internal/backoffice"
	"github.com/starford/estatedesk/internal/linking"
	"github.com/starford/estatedesk/internal/models"
)

// Server wraps the MCP server with back-office tools.
type Server struct {
	mcp    *server.MCPServer
	svc    *backoffice.Service
	logger *slog.Logger
}

// New creates a new MCP server with all tools registered.
func New(svc *backoffice.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{svc: svc, logger: logger}

	s.mcp = server.NewMCPServer(
		"EstateDesk",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_entities",
		mcp.WithDescription("Full-text search through entity labels and payloads."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("kind", mcp.Description("Optional entity kind (property, contact, memo, ...)")),
	), s.searchEntities)

	s.mcp.AddTool(mcp.NewTool("get_entity",
		mcp.WithDescription("Read one entity with its full payload and checksum."),
		mcp.WithString("kind", mcp.Required(), mcp.Description("Entity kind")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id")),
	), s.getEntity)

	s.mcp.AddTool(mcp.NewTool("list_relations",
		mcp.WithDescription("List the relation catalog. Read the "+relationsURI+
			" resource for a Markdown description."),
	), s.listRelations)

	s.mcp.AddTool(mcp.NewTool("show_links",
		mcp.WithDescription("Show the targets assigned to a source entity under a relation, "+
			"and the targets still available for assignment."),
		mcp.WithString("relation", mcp.Required(), mcp.Description("Relation name, e.g. memo-properties")),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source entity id")),
		mcp.WithString("filter", mcp.Description("Optional substring filter over available labels and ids")),
	), s.showLinks)

	s.mcp.AddTool(mcp.NewTool("find_referrers",
		mcp.WithDescription("List the source entities that link to a target entity under a relation."),
		mcp.WithString("relation", mcp.Required(), mcp.Description("Relation name, e.g. memo-properties")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target entity id")),
	), s.findReferrers)

	s.mcp.AddTool(mcp.NewTool("assign_link",
		mcp.WithDescription("Link a target entity to a source entity under a relation."),
		mcp.WithString("relation", mcp.Required(), mcp.Description("Relation name")),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source entity id")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target entity id")),
	), s.assignLink)

	s.mcp.AddTool(mcp.NewTool("remove_link",
		mcp.WithDescription("Unlink a target entity from a source entity under a relation."),
		mcp.WithString("relation", mcp.Required(), mcp.Description("Relation name")),
		mcp.WithString("source", mcp.Required(), mcp.Description("Source entity id")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Target entity id")),
	), s.removeLink)

	s.mcp.AddTool(mcp.NewTool("upload_attachment",
		mcp.WithDescription("Store a file from a URL (http, https or base64 data URI) as an attachment. "+
			"Optionally link it to a source entity through one of the *-files relations."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:<mime>;base64,<data> URI")),
		mcp.WithString("filename", mcp.Description("Optional target file name; derived from the URL when empty")),
		mcp.WithString("relation", mcp.Description("Optional relation to link the attachment with, e.g. property-files")),
		mcp.WithString("source", mcp.Description("Source entity id, required with relation")),
	), s.uploadAttachment)

	s.mcp.AddResource(
		mcp.NewResource(relationsURI, "Relation Catalog",
			mcp.WithResourceDescription("Relations between entity kinds that the link tools operate on."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRelationsResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// toolError renders a ServiceError as a tool-level error result.
func toolError(se *apperr.ServiceError) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", se.Code(), se.Message()))
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

// respond converts a Result into a tool result.
func respond[V any](res apperr.Result[V], render func(V) *mcp.CallToolResult) *mcp.CallToolResult {
	if se, failed := res.Failure(); failed {
		return toolError(se)
	}
	v, _ := res.Get()
	return render(v)
}

func (s *Server) searchEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res := s.svc.Search(ctx, req.GetString("kind", ""), query, 20)
	return respond(res, func(hits []models.Summary) *mcp.CallToolResult { return jsonResult(hits) }), nil
}

func (s *Server) getEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res := s.svc.Get(ctx, kind, id)
	return respond(res, func(e models.Entity) *mcp.CallToolResult { return jsonResult(e) }), nil
}

func (s *Server) listRelations(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Relations()), nil
}

type linksView struct {
	Relation  string           `json:"relation"`
	Source    string           `json:"source"`
	Assigned  []models.Summary `json:"assigned"`
	Available []models.Summary `json:"available"`
}

func (s *Server) showLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	relation, err := req.RequireString("relation")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	candidates := s.svc.Candidates(ctx, relation)
	if se, failed := candidates.Failure(); failed {
		return toolError(se), nil
	}
	pool, _ := candidates.Get()

	eng := linking.New[models.Summary](s.svc.Linker(relation), source,
		linking.WithLogger[models.Summary](s.logger))
	defer eng.Close()

	if se, failed := eng.Load(ctx, pool).Failure(); failed {
		return toolError(se), nil
	}
	return jsonResult(linksView{
		Relation:  relation,
		Source:    source,
		Assigned:  eng.Assigned(),
		Available: eng.Available(req.GetString("filter", "")),
	}), nil
}

func (s *Server) findReferrers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	relation, err := req.RequireString("relation")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res := s.svc.Referrers(ctx, relation, target)
	return respond(res, func(items []models.Summary) *mcp.CallToolResult { return jsonResult(items) }), nil
}

type linkArgs struct {
	relation, source, target string
}

func requireLinkArgs(req mcp.CallToolRequest) (linkArgs, error) {
	var a linkArgs
	var err error
	if a.relation, err = req.RequireString("relation"); err != nil {
		return a, err
	}
	if a.source, err = req.RequireString("source"); err != nil {
		return a, err
	}
	if a.target, err = req.RequireString("target"); err != nil {
		return a, err
	}
	return a, nil
}

func (s *Server) assignLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := requireLinkArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res := s.svc.Assign(ctx, a.relation, a.source, a.target)
	return respond(res, func(struct{}) *mcp.CallToolResult {
		return mcp.NewToolResultText(fmt.Sprintf("assigned: %s -> %s (%s)", a.source, a.target, a.relation))
	}), nil
}

func (s *Server) removeLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := requireLinkArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res := s.svc.Remove(ctx, a.relation, a.source, a.target)
	return respond(res, func(struct{}) *mcp.CallToolResult {
		return mcp.NewToolResultText(fmt.Sprintf("removed: %s -> %s (%s)", a.source, a.target, a.relation))
	}), nil
}

func (s *Server) readRelationsResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      relationsURI,
			MIMEType: "text/markdown",
			Text:     RelationsContract(),
		},
	}, nil
}
