package backoffice_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/starford/estatedesk/internal/apperr"
	"github.com/starford/estatedesk/internal/backoffice"
	"github.com/starford/estatedesk/internal/linking"
	"github.com/starford/estatedesk/internal/models"
	"github.com/starford/estatedesk/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []backoffice.Event
}

func (r *recorder) add(ev backoffice.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func mustCreate(t *testing.T, svc *backoffice.Service, kind, raw string) models.Entity {
	t.Helper()
	res := svc.Create(context.Background(), kind, []byte(raw))
	e, ok := res.Get()
	if !ok {
		se, _ := res.Failure()
		t.Fatalf("Create %s: %v", kind, se)
	}
	return e
}

func failure[V any](t *testing.T, res apperr.Result[V]) *apperr.ServiceError {
	t.Helper()
	se, ok := res.Failure()
	if !ok {
		t.Fatal("expected a failure result")
	}
	return se
}

func TestServiceName(t *testing.T) {
	if got := backoffice.ServiceName(models.KindProperty); got != "PropertyService" {
		t.Errorf("ServiceName = %q", got)
	}
}

func TestCreateGetUpdateDelete(t *testing.T) {
	rec := &recorder{}
	svc, _ := testutil.TestService(t, backoffice.WithEvents(rec.add))
	ctx := context.Background()

	p := mustCreate(t, svc, "property", `{"title":"Loft","address":"1 Main St","price":250000}`)
	if p.ID == "" || p.Label != "Loft" {
		t.Fatalf("unexpected entity: %+v", p)
	}

	got, ok := svc.Get(ctx, "property", p.ID).Get()
	if !ok || got.Checksum != p.Checksum {
		t.Fatalf("Get = %+v, %v", got, ok)
	}

	se := failure(t, svc.Update(ctx, "property", p.ID, []byte(`{"title":"Loft","address":"2 Main St"}`), `"nope"`))
	if se.Kind() != apperr.KindUpdateFailed || !errors.Is(se, apperr.ErrConflict) {
		t.Errorf("stale update = %v", se)
	}

	upd, ok := svc.Update(ctx, "property", p.ID, []byte(`{"title":"Loft","address":"2 Main St"}`), p.Checksum).Get()
	if !ok || upd.Checksum == p.Checksum {
		t.Fatalf("Update = %+v, %v", upd, ok)
	}

	if res := svc.Delete(ctx, "property", p.ID); !res.IsSuccess() {
		t.Fatal("Delete failed")
	}
	se = failure(t, svc.Get(ctx, "property", p.ID))
	if se.Kind() != apperr.KindFetchFailed || se.Service() != "PropertyService" || !errors.Is(se, apperr.ErrNotFound) {
		t.Errorf("get after delete = %v", se)
	}
	se = failure(t, svc.Delete(ctx, "property", p.ID))
	if se.Kind() != apperr.KindDeleteFailed {
		t.Errorf("second delete kind = %v", se.Kind())
	}

	want := []string{backoffice.EventEntityCreated, backoffice.EventEntityUpdated, backoffice.EventEntityDeleted}
	got2 := rec.types()
	if len(got2) != len(want) {
		t.Fatalf("events = %v, want %v", got2, want)
	}
	for i := range want {
		if got2[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got2[i], want[i])
		}
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := testutil.TestService(t)
	ctx := context.Background()

	cases := []struct {
		name, kind, raw string
	}{
		{"missing title", "property", `{"address":"x"}`},
		{"negative price", "property", `{"title":"a","address":"x","price":-1}`},
		{"unknown field", "contact", `{"name":"a","age":3}`},
		{"bad currency", "payment", `{"reference":"r","amount":10,"currency":"euro","due":"2026-01-01"}`},
		{"attachment", "attachment", `{"filename":"a.pdf"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			se := failure(t, svc.Create(ctx, tc.kind, []byte(tc.raw)))
			if se.Kind() != apperr.KindCreateFailed || !errors.Is(se, apperr.ErrValidation) {
				t.Errorf("got %v, want CreateFailed wrapping ErrValidation", se)
			}
		})
	}

	se := failure(t, svc.Create(ctx, "spaceship", []byte(`{}`)))
	if !errors.Is(se, apperr.ErrNotFound) {
		t.Errorf("unknown kind = %v", se)
	}
}

func TestListAndSearch(t *testing.T) {
	svc, _ := testutil.TestService(t)
	ctx := context.Background()
	mustCreate(t, svc, "contact", `{"name":"Ada Lovelace","role":"buyer"}`)
	mustCreate(t, svc, "contact", `{"name":"Grace Hopper","role":"owner"}`)

	page, ok := svc.List(ctx, "contact", 1, 0, "").Get()
	if !ok || page.Total != 2 || len(page.Items) != 1 || page.Items[0].Label != "Ada Lovelace" {
		t.Fatalf("List = %+v, %v", page, ok)
	}

	hits, ok := svc.Search(ctx, "contact", "Hopper", 10).Get()
	if !ok || len(hits) != 1 || hits[0].Label != "Grace Hopper" {
		t.Errorf("Search = %+v, %v", hits, ok)
	}

	se := failure(t, svc.Search(ctx, "", " ", 10))
	if !errors.Is(se, apperr.ErrValidation) {
		t.Errorf("empty query = %v", se)
	}
}

func TestAssignRemoveIdempotent(t *testing.T) {
	rec := &recorder{}
	svc, _ := testutil.TestService(t, backoffice.WithEvents(rec.add))
	ctx := context.Background()
	m := mustCreate(t, svc, "memo", `{"body":"# Viewing notes"}`)
	p := mustCreate(t, svc, "property", `{"title":"Loft","address":"x"}`)

	for range 2 {
		if res := svc.Assign(ctx, "memo-properties", m.ID, p.ID); !res.IsSuccess() {
			t.Fatalf("Assign failed: %v", failure(t, res))
		}
	}
	related, _ := svc.FetchRelated(ctx, "memo-properties", m.ID).Get()
	if len(related) != 1 || related[0].ID != p.ID {
		t.Errorf("related = %+v", related)
	}

	for range 2 {
		if res := svc.Remove(ctx, "memo-properties", m.ID, p.ID); !res.IsSuccess() {
			t.Fatal("Remove failed")
		}
	}
	related, _ = svc.FetchRelated(ctx, "memo-properties", m.ID).Get()
	if len(related) != 0 {
		t.Errorf("related after remove = %+v", related)
	}

	var links []string
	for _, typ := range rec.types() {
		if typ == backoffice.EventLinkAssigned || typ == backoffice.EventLinkRemoved {
			links = append(links, typ)
		}
	}
	if len(links) != 2 {
		t.Errorf("link events = %v, want one assigned and one removed", links)
	}
}

func TestAssignRejectsUnknownEntities(t *testing.T) {
	svc, _ := testutil.TestService(t)
	ctx := context.Background()
	m := mustCreate(t, svc, "memo", `{"body":"hello"}`)

	se := failure(t, svc.Assign(ctx, "memo-properties", m.ID, "ghost"))
	if se.Kind() != apperr.KindUpdateFailed || se.Service() != "LinkService" || !errors.Is(se, apperr.ErrNotFound) {
		t.Errorf("unknown target = %v", se)
	}
	se = failure(t, svc.Assign(ctx, "no-such-relation", m.ID, "x"))
	if !errors.Is(se, apperr.ErrNotFound) {
		t.Errorf("unknown relation = %v", se)
	}
	se = failure(t, svc.FetchRelated(ctx, "no-such-relation", m.ID))
	if se.Kind() != apperr.KindFetchFailed {
		t.Errorf("fetch unknown relation kind = %v", se.Kind())
	}
}

func TestMemoReferencesAutoLink(t *testing.T) {
	svc, _ := testutil.TestService(t)
	ctx := context.Background()
	p := mustCreate(t, svc, "property", `{"title":"Loft","address":"x"}`)

	m := mustCreate(t, svc, "memo", `{"body":"Roof leak at [[property:`+p.ID+`]] and [[property:ghost]]"}`)
	related, _ := svc.FetchRelated(ctx, "memo-properties", m.ID).Get()
	if len(related) != 1 || related[0].ID != p.ID {
		t.Errorf("auto links = %+v", related)
	}
}

func TestDeleteCascadesLinks(t *testing.T) {
	svc, _ := testutil.TestService(t)
	ctx := context.Background()
	m := mustCreate(t, svc, "memo", `{"body":"hello"}`)
	p := mustCreate(t, svc, "property", `{"title":"Loft","address":"x"}`)
	svc.Assign(ctx, "memo-properties", m.ID, p.ID)

	svc.Delete(ctx, "property", p.ID)
	related, _ := svc.FetchRelated(ctx, "memo-properties", m.ID).Get()
	if len(related) != 0 {
		t.Errorf("links survived delete: %+v", related)
	}
}

func TestSaveAttachment(t *testing.T) {
	svc, dir := testutil.TestService(t)
	ctx := context.Background()
	p := mustCreate(t, svc, "property", `{"title":"Loft","address":"x"}`)

	e, ok := svc.SaveAttachment(ctx, "floor plan.pdf", []byte("%PDF-1.4"), "property-files", p.ID).Get()
	if !ok {
		t.Fatal("SaveAttachment failed")
	}
	if e.ID != "floor_plan.pdf" {
		t.Errorf("id = %q", e.ID)
	}
	if _, err := os.Stat(filepath.Join(dir, "floor_plan.pdf")); err != nil {
		t.Errorf("file not written: %v", err)
	}
	related, _ := svc.FetchRelated(ctx, "property-files", p.ID).Get()
	if len(related) != 1 || related[0].ID != e.ID {
		t.Errorf("attachment not linked: %+v", related)
	}

	se := failure(t, svc.SaveAttachment(ctx, "floor plan.pdf", []byte("again"), "", ""))
	if !errors.Is(se, apperr.ErrAlreadyExists) {
		t.Errorf("duplicate = %v", se)
	}
	se = failure(t, svc.SaveAttachment(ctx, "x.pdf", []byte("x"), "memo-properties", p.ID))
	if !errors.Is(se, apperr.ErrValidation) {
		t.Errorf("non-file relation = %v", se)
	}

	path, ok := svc.AttachmentPath(e.ID).Get()
	if !ok || filepath.Base(path) != e.ID {
		t.Errorf("AttachmentPath = %q, %v", path, ok)
	}

	if res := svc.Delete(ctx, "attachment", e.ID); !res.IsSuccess() {
		t.Fatal("delete attachment failed")
	}
	if _, err := os.Stat(filepath.Join(dir, e.ID)); !os.IsNotExist(err) {
		t.Errorf("file still on disk: %v", err)
	}
}

func TestSaveAttachmentRollsBackFailedLink(t *testing.T) {
	var svc *backoffice.Service
	var once sync.Once
	rec := &recorder{}
	ctx := context.Background()
	var source string
	// Delete the link source once the attachment record exists, so the
	// follow-up link is the step that fails.
	hook := func(ev backoffice.Event) {
		rec.add(ev)
		if ev.Type == backoffice.EventEntityCreated && ev.Kind == models.KindAttachment {
			once.Do(func() { svc.Delete(ctx, "property", source) })
		}
	}
	svc, dir := testutil.TestService(t, backoffice.WithEvents(hook))
	source = mustCreate(t, svc, "property", `{"title":"Loft","address":"x"}`).ID

	se := failure(t, svc.SaveAttachment(ctx, "plan.pdf", []byte("%PDF-1.4"), "property-files", source))
	if se.Kind() != apperr.KindUpdateFailed || !errors.Is(se, apperr.ErrNotFound) {
		t.Errorf("failed link = %v", se)
	}
	if _, err := os.Stat(filepath.Join(dir, "plan.pdf")); !os.IsNotExist(err) {
		t.Errorf("file left on disk: %v", err)
	}
	if res := svc.Get(ctx, "attachment", "plan.pdf"); res.IsSuccess() {
		t.Error("attachment record left behind")
	}
	types := rec.types()
	if last := types[len(types)-1]; last != backoffice.EventEntityDeleted {
		t.Errorf("events = %v, want trailing entity.deleted", types)
	}

	if res := svc.SaveAttachment(ctx, "plan.pdf", []byte("%PDF-1.4"), "", ""); !res.IsSuccess() {
		t.Errorf("retry after rollback = %v", failure(t, res))
	}
}

func TestSyncFilesRegistersDroppedFiles(t *testing.T) {
	rec := &recorder{}
	svc, dir := testutil.TestService(t, backoffice.WithEvents(rec.add))
	_ = os.WriteFile(filepath.Join(dir, "contract.pdf"), []byte("%PDF"), 0o644)

	if err := svc.SyncFiles(context.Background()); err != nil {
		t.Fatalf("SyncFiles: %v", err)
	}
	if res := svc.Get(context.Background(), "attachment", "contract.pdf"); !res.IsSuccess() {
		t.Error("dropped file not registered")
	}
	if types := rec.types(); len(types) != 1 || types[0] != backoffice.EventEntityCreated {
		t.Errorf("events = %v", types)
	}
}

func TestEngineOverLinker(t *testing.T) {
	svc, _ := testutil.TestService(t)
	ctx := context.Background()
	m := mustCreate(t, svc, "memo", `{"body":"hello"}`)
	p1 := mustCreate(t, svc, "property", `{"title":"Alpha","address":"x"}`)
	p2 := mustCreate(t, svc, "property", `{"title":"Beta","address":"y"}`)

	candidates, _ := svc.Candidates(ctx, "memo-properties").Get()
	eng := linking.New[models.Summary](svc.Linker("memo-properties"), m.ID)
	if res := eng.Load(ctx, candidates); !res.IsSuccess() {
		t.Fatal("Load failed")
	}
	if res := eng.Assign(ctx, p1.ID); !res.IsSuccess() {
		t.Fatal("Assign failed")
	}
	if got := eng.Assigned(); len(got) != 1 || got[0].ID != p1.ID {
		t.Errorf("assigned = %+v", got)
	}
	if got := eng.Available(""); len(got) != 1 || got[0].ID != p2.ID {
		t.Errorf("available = %+v", got)
	}

	// A fresh engine sees the persisted link.
	again := linking.New[models.Summary](svc.Linker("memo-properties"), m.ID)
	again.Load(ctx, candidates)
	if got := again.Assigned(); len(got) != 1 || got[0].ID != p1.ID {
		t.Errorf("reloaded assigned = %+v", got)
	}
}
