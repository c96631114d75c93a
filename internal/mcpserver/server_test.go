package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/estatedesk/internal/backoffice"
	"github.com/starford/estatedesk/internal/models"
	"github.com/starford/estatedesk/internal/testutil"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

func testServer(t *testing.T) (*Server, *backoffice.Service) {
	t.Helper()
	svc, _ := testutil.TestService(t)
	return New(svc, testutil.Logger()), svc
}

func mustCreate(t *testing.T, svc *backoffice.Service, kind models.Kind, raw string) models.Entity {
	t.Helper()
	res := svc.Create(context.Background(), string(kind), []byte(raw))
	e, ok := res.Get()
	if !ok {
		se, _ := res.Failure()
		t.Fatalf("Create %s: %v", kind, se)
	}
	return e
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"search_entities":   srv.searchEntities,
		"get_entity":        srv.getEntity,
		"list_relations":    srv.listRelations,
		"show_links":        srv.showLinks,
		"find_referrers":    srv.findReferrers,
		"assign_link":       srv.assignLink,
		"remove_link":       srv.removeLink,
		"upload_attachment": srv.uploadAttachment,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestSearchAndGetEntity(t *testing.T) {
	srv, svc := testServer(t)
	p := mustCreate(t, svc, models.KindProperty, `{"title":"Harbour Loft","address":"1 Quay St"}`)

	r := callTool(t, srv, "search_entities", map[string]interface{}{"query": "Harbour"})
	if r.IsError || !strings.Contains(resultText(r), p.ID) {
		t.Errorf("search result = %q", resultText(r))
	}

	r = callTool(t, srv, "get_entity", map[string]interface{}{"kind": "property", "id": p.ID})
	var got models.Entity
	if err := json.Unmarshal([]byte(resultText(r)), &got); err != nil {
		t.Fatalf("decode: %v (%q)", err, resultText(r))
	}
	if got.ID != p.ID || got.Checksum != p.Checksum {
		t.Errorf("get = %+v", got)
	}
}

func TestGetEntityMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_entity", map[string]interface{}{"kind": "property", "id": "nope"})
	if !r.IsError {
		t.Fatal("expected error for missing entity")
	}
	if !strings.HasPrefix(resultText(r), "SERVICE_FETCH_FAILED") {
		t.Errorf("error text = %q", resultText(r))
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	srv, _ := testServer(t)
	if r := callTool(t, srv, "search_entities", map[string]interface{}{}); !r.IsError {
		t.Error("expected error without query")
	}
}

func TestListRelations(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "list_relations", map[string]interface{}{})
	var rels []models.Relation
	if err := json.Unmarshal([]byte(resultText(r)), &rels); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rels) != len(models.Relations()) {
		t.Errorf("got %d relations, want %d", len(rels), len(models.Relations()))
	}
}

func TestShowAssignRemoveLinks(t *testing.T) {
	srv, svc := testServer(t)
	m := mustCreate(t, svc, models.KindMemo, `{"body":"# Viewing notes"}`)
	p1 := mustCreate(t, svc, models.KindProperty, `{"title":"Alpha House","address":"a"}`)
	p2 := mustCreate(t, svc, models.KindProperty, `{"title":"Beta Flat","address":"b"}`)

	link := map[string]interface{}{"relation": "memo-properties", "source": m.ID, "target": p1.ID}
	if r := callTool(t, srv, "assign_link", link); r.IsError {
		t.Fatalf("assign: %s", resultText(r))
	}

	show := func(filter string) linksView {
		t.Helper()
		r := callTool(t, srv, "show_links", map[string]interface{}{
			"relation": "memo-properties", "source": m.ID, "filter": filter,
		})
		if r.IsError {
			t.Fatalf("show_links: %s", resultText(r))
		}
		var v linksView
		if err := json.Unmarshal([]byte(resultText(r)), &v); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return v
	}

	v := show("")
	if len(v.Assigned) != 1 || v.Assigned[0].ID != p1.ID {
		t.Errorf("assigned = %+v", v.Assigned)
	}
	if len(v.Available) != 1 || v.Available[0].ID != p2.ID {
		t.Errorf("available = %+v", v.Available)
	}
	if v = show("zzz"); len(v.Available) != 0 || len(v.Assigned) != 1 {
		t.Errorf("filtered view = %+v", v)
	}

	r := callTool(t, srv, "find_referrers", map[string]interface{}{"relation": "memo-properties", "target": p1.ID})
	var refs []models.Summary
	if r.IsError || json.Unmarshal([]byte(resultText(r)), &refs) != nil || len(refs) != 1 || refs[0].ID != m.ID {
		t.Errorf("find_referrers = %s", resultText(r))
	}
	if r = callTool(t, srv, "find_referrers", map[string]interface{}{"relation": "nope", "target": p1.ID}); !r.IsError {
		t.Errorf("find_referrers on unknown relation = %s", resultText(r))
	}

	if r := callTool(t, srv, "remove_link", link); r.IsError {
		t.Fatalf("remove: %s", resultText(r))
	}
	if v = show(""); len(v.Assigned) != 0 || len(v.Available) != 2 {
		t.Errorf("after remove = %+v", v)
	}
}

func TestShowLinksUnknownRelation(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "show_links", map[string]interface{}{"relation": "nope", "source": "x"})
	if !r.IsError {
		t.Error("expected error for unknown relation")
	}
}

func TestAssignLinkMissingTarget(t *testing.T) {
	srv, svc := testServer(t)
	m := mustCreate(t, svc, models.KindMemo, `{"body":"# Note"}`)
	r := callTool(t, srv, "assign_link", map[string]interface{}{
		"relation": "memo-properties", "source": m.ID, "target": "ghost",
	})
	if !r.IsError || !strings.HasPrefix(resultText(r), "SERVICE_UPDATE_FAILED") {
		t.Errorf("result = %q", resultText(r))
	}
}

func TestUploadAttachmentDataURI(t *testing.T) {
	srv, svc := testServer(t)
	p := mustCreate(t, svc, models.KindProperty, `{"title":"Gamma","address":"c"}`)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes)

	r := callTool(t, srv, "upload_attachment", map[string]interface{}{
		"url": uri, "filename": "floor plan.png", "relation": "property-files", "source": p.ID,
	})
	if r.IsError {
		t.Fatalf("upload: %s", resultText(r))
	}
	var out uploadResult
	if err := json.Unmarshal([]byte(resultText(r)), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Entity.Kind != models.KindAttachment || out.URL != "/attachments/"+out.Entity.ID {
		t.Errorf("upload result = %+v", out)
	}

	related, _ := svc.FetchRelated(context.Background(), "property-files", p.ID).Get()
	if len(related) != 1 || related[0].ID != out.Entity.ID {
		t.Errorf("related = %+v", related)
	}

	r = callTool(t, srv, "upload_attachment", map[string]interface{}{"url": uri, "filename": "floor plan.png"})
	if !r.IsError {
		t.Error("expected error for duplicate file")
	}
}

func TestUploadAttachmentRejects(t *testing.T) {
	srv, _ := testServer(t)
	png := base64.StdEncoding.EncodeToString(pngBytes)
	cases := []struct {
		name string
		args map[string]interface{}
	}{
		{"bad extension", map[string]interface{}{"url": "data:image/png;base64," + png, "filename": "x.exe"}},
		{"magic mismatch", map[string]interface{}{"url": "data:image/png;base64," + png, "filename": "x.gif"}},
		{"not base64", map[string]interface{}{"url": "data:image/png,xyz"}},
		{"unknown mime", map[string]interface{}{"url": "data:text/plain;base64,aGVsbG8="}},
		{"loopback", map[string]interface{}{"url": "http://127.0.0.1/a.png"}},
		{"private 10/8", map[string]interface{}{"url": "http://10.0.0.1/a.png"}},
		{"private 172.16/12", map[string]interface{}{"url": "http://172.16.0.1/a.png"}},
		{"private 192.168/16", map[string]interface{}{"url": "http://192.168.1.1/a.png"}},
		{"metadata host", map[string]interface{}{"url": "http://metadata.google.internal/computeMetadata/v1/"}},
		{"unsupported scheme", map[string]interface{}{"url": "file:///etc/passwd"}},
		{"relation without source", map[string]interface{}{"url": "data:image/png;base64," + png, "relation": "property-files"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if r := callTool(t, srv, "upload_attachment", tc.args); !r.IsError {
				t.Errorf("expected error, got %q", resultText(r))
			}
		})
	}
}

func TestBlockedReason(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1":       "loopback",
		"::1":             "loopback",
		"10.0.0.1":        "private",
		"172.16.0.1":      "private",
		"172.31.255.254":  "private",
		"192.168.1.1":     "private",
		"100.64.0.1":      "private",
		"fd00::1":         "private",
		"::ffff:10.1.2.3": "private",
		"169.254.169.254": "link-local",
		"fe80::1":         "link-local",
		"0.0.0.0":         "unspecified",
		"239.1.1.1":       "multicast",
		"8.8.8.8":         "",
		"172.32.0.1":      "",
		"2606:4700::1111": "",
	}
	for in, want := range cases {
		if got := blockedReason(netip.MustParseAddr(in)); got != want {
			t.Errorf("blockedReason(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestScreenHostAndDialGuard(t *testing.T) {
	ctx := context.Background()
	for _, host := range []string{"10.0.0.1", "192.168.1.1", "172.16.0.1", "Metadata.Google.Internal.", "localhost"} {
		if err := screenHost(ctx, host); err == nil || !strings.Contains(err.Error(), "blocked host") {
			t.Errorf("screenHost(%q) = %v, want blocked", host, err)
		}
	}
	if err := screenHost(ctx, "93.184.215.14"); err != nil {
		t.Errorf("public address blocked: %v", err)
	}
	if err := guardDial("tcp4", "192.168.0.10:443", nil); err == nil {
		t.Error("dial guard let a private address through")
	}
	if err := guardDial("tcp4", "93.184.215.14:443", nil); err != nil {
		t.Errorf("dial guard blocked a public address: %v", err)
	}
}

func TestDownloadRefusesLocalServer(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(pngBytes)
	}))
	defer ts.Close()

	if _, err := download(context.Background(), ts.URL+"/a.png"); err == nil {
		t.Fatal("download from a loopback server succeeded")
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("server was contacted %d times", n)
	}
}

func TestParseDataURIAndName(t *testing.T) {
	enc := base64.StdEncoding.EncodeToString(pngBytes)
	for _, uri := range []string{
		"data:image/png;base64," + enc,
		"data:IMAGE/PNG;charset=binary;base64," + strings.TrimRight(enc, "="),
	} {
		p, err := parseDataURI(uri)
		if err != nil || p.ext != ".png" || len(p.data) != len(pngBytes) {
			t.Errorf("parseDataURI(%.40s) = %v, %q, %v", uri, len(p.data), p.ext, err)
		}
	}
	if got := nameFor("https://example.com/plans/floor.pdf?v=2", ".png"); got != "floor.pdf" {
		t.Errorf("nameFor url = %q", got)
	}
	if got := nameFor("https://example.com/", ".png"); !strings.HasSuffix(got, ".png") || len(got) != 36+4 {
		t.Errorf("nameFor fallback = %q", got)
	}
	if err := sniff([]byte(`<?xml version="1.0"?><SVG xmlns="http://www.w3.org/2000/svg"/>`), ".svg"); err != nil {
		t.Errorf("sniff svg: %v", err)
	}
	if err := sniff(pngBytes, ".pdf"); err == nil {
		t.Error("png accepted as pdf")
	}
}

func TestRelationsContract(t *testing.T) {
	doc := RelationsContract()
	for _, r := range models.Relations() {
		if !strings.Contains(doc, "`"+r.Name+"`") {
			t.Errorf("contract missing relation %s", r.Name)
		}
	}
}
