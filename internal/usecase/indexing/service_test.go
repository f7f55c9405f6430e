package indexing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2"
	"go.uber.org/zap"

	"github.com/supportal/kbsearch/internal/domain"
	"github.com/supportal/kbsearch/internal/index"
)

// --- Mocks ---

type mockBuilder struct {
	rebuildGen   *index.Generation
	rebuildStats index.RebuildStats
	rebuildErr   error
	replayErr    error
	discarded    *index.Generation
	upserted     []domain.Document
	deleted      []string
	upsertErr    error
	deleteErr    error
	building     bool
	replayed     bool
}

func (m *mockBuilder) Rebuild(_ context.Context, _ domain.ContentSource) (*index.Generation, index.RebuildStats, error) {
	return m.rebuildGen, m.rebuildStats, m.rebuildErr
}

func (m *mockBuilder) ReplayPending(_ context.Context) error {
	m.replayed = true
	return m.replayErr
}

func (m *mockBuilder) Discard(gen *index.Generation) error {
	m.discarded = gen
	return nil
}

func (m *mockBuilder) Upsert(_ context.Context, doc domain.Document) error {
	m.upserted = append(m.upserted, doc)
	return m.upsertErr
}

func (m *mockBuilder) Delete(_ context.Context, t domain.DocType, id string) error {
	m.deleted = append(m.deleted, domain.DocID(t, id))
	return m.deleteErr
}

func (m *mockBuilder) Building() bool    { return m.building }
func (m *mockBuilder) PendingDepth() int { return 0 }

type mockPublisher struct {
	published  *index.Generation
	publishErr error
	live       *index.Generation
}

func (m *mockPublisher) Publish(_ context.Context, gen *index.Generation) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = gen
	m.live = gen
	return nil
}

func (m *mockPublisher) Live() *index.Generation { return m.live }

type mockContent struct {
	records  map[string]domain.ContentRecord
	fetchErr error
}

func (m *mockContent) Enumerate(_ context.Context, fn func(domain.ContentRecord) error) error {
	for _, rec := range m.records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockContent) Fetch(_ context.Context, t domain.DocType, id string) (domain.ContentRecord, error) {
	if m.fetchErr != nil {
		return domain.ContentRecord{}, m.fetchErr
	}
	rec, ok := m.records[domain.DocID(t, id)]
	if !ok {
		return domain.ContentRecord{}, errors.New("record not found")
	}
	return rec, nil
}

type mockReloader struct {
	calls int
	err   error
}

func (m *mockReloader) LoadAll() error {
	m.calls++
	return m.err
}

func memGeneration(t *testing.T) *index.Generation {
	t.Helper()
	gen, err := index.NewStore("", zap.NewNop()).Create(bleve.NewIndexMapping())
	if err != nil {
		t.Fatalf("create generation: %v", err)
	}
	t.Cleanup(func() { _ = gen.Close() })
	return gen
}

func testRecord(id string) domain.ContentRecord {
	return domain.ContentRecord{
		Type:      domain.DocTypeArticle,
		ID:        id,
		Locale:    "en",
		Title:     "Title",
		Body:      "Body",
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		Revision:  1,
	}
}

func newTestService(b *mockBuilder, p *mockPublisher, c *mockContent, r *mockReloader) *Service {
	if c == nil {
		c = &mockContent{}
	}
	if r == nil {
		r = &mockReloader{}
	}
	return New(b, p, c, r, zap.NewNop())
}

// --- Tests ---

func TestUpsert_MapsAndForwards(t *testing.T) {
	b := &mockBuilder{}
	svc := newTestService(b, &mockPublisher{}, nil, nil)

	if err := svc.Upsert(context.Background(), testRecord("kb-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.upserted) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(b.upserted))
	}
	if b.upserted[0].DocID() != "article:kb-1" {
		t.Errorf("unexpected doc %q", b.upserted[0].DocID())
	}
}

func TestUpsert_UnmappableRecord(t *testing.T) {
	b := &mockBuilder{}
	svc := newTestService(b, &mockPublisher{}, nil, nil)

	rec := testRecord("kb-1")
	rec.Locale = ""
	err := svc.Upsert(context.Background(), rec)
	if !errors.Is(err, domain.ErrMapping) {
		t.Fatalf("expected ErrMapping, got %v", err)
	}
	if len(b.upserted) != 0 {
		t.Error("unmappable record reached the builder")
	}
}

func TestDelete_Validates(t *testing.T) {
	b := &mockBuilder{}
	svc := newTestService(b, &mockPublisher{}, nil, nil)

	if err := svc.Delete(context.Background(), "comment", "c-1"); !errors.Is(err, domain.ErrMapping) {
		t.Fatalf("expected ErrMapping for bad type, got %v", err)
	}
	if err := svc.Delete(context.Background(), domain.DocTypeArticle, ""); !errors.Is(err, domain.ErrMapping) {
		t.Fatalf("expected ErrMapping for empty id, got %v", err)
	}

	if err := svc.Delete(context.Background(), domain.DocTypeArticle, "kb-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.deleted) != 1 || b.deleted[0] != "article:kb-1" {
		t.Errorf("unexpected deletes %v", b.deleted)
	}
}

func TestHandleEvent_DeleteOp(t *testing.T) {
	b := &mockBuilder{}
	svc := newTestService(b, &mockPublisher{}, nil, nil)

	ev := domain.ChangeEvent{Type: domain.DocTypeQuestion, ID: "q-1", Op: domain.OpDelete, Revision: 4}
	if err := svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.deleted) != 1 || b.deleted[0] != "question:q-1" {
		t.Errorf("unexpected deletes %v", b.deleted)
	}
}

func TestHandleEvent_UpdateFetchesRecord(t *testing.T) {
	b := &mockBuilder{}
	c := &mockContent{records: map[string]domain.ContentRecord{
		"article:kb-1": testRecord("kb-1"),
	}}
	svc := newTestService(b, &mockPublisher{}, c, nil)

	ev := domain.ChangeEvent{Type: domain.DocTypeArticle, ID: "kb-1", Op: domain.OpUpdate, Revision: 1}
	if err := svc.HandleEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(b.upserted) != 1 {
		t.Fatalf("expected fetched record to be upserted, got %d", len(b.upserted))
	}
}

func TestHandleEvent_FetchFailure(t *testing.T) {
	b := &mockBuilder{}
	c := &mockContent{fetchErr: errors.New("content layer down")}
	svc := newTestService(b, &mockPublisher{}, c, nil)

	ev := domain.ChangeEvent{Type: domain.DocTypeArticle, ID: "kb-1", Op: domain.OpCreate, Revision: 1}
	if err := svc.HandleEvent(context.Background(), ev); err == nil {
		t.Fatal("expected fetch error to surface for redelivery")
	}
}

func TestHandleEvent_UnknownOp(t *testing.T) {
	svc := newTestService(&mockBuilder{}, &mockPublisher{}, nil, nil)

	ev := domain.ChangeEvent{Type: domain.DocTypeArticle, ID: "kb-1", Op: "archive"}
	if err := svc.HandleEvent(context.Background(), ev); err == nil {
		t.Fatal("expected error for unknown op")
	}
}

func TestRebuild_PublishAndReplay(t *testing.T) {
	gen := memGeneration(t)
	b := &mockBuilder{rebuildGen: gen}
	p := &mockPublisher{}
	svc := newTestService(b, p, nil, nil)

	if err := svc.Rebuild(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.published != gen {
		t.Error("expected generation to be published")
	}
	if !b.replayed {
		t.Error("expected pending updates to be replayed after cutover")
	}
}

func TestRebuild_BuildFailure(t *testing.T) {
	b := &mockBuilder{rebuildErr: domain.ErrBuild}
	p := &mockPublisher{}
	svc := newTestService(b, p, nil, nil)

	if err := svc.Rebuild(context.Background()); !errors.Is(err, domain.ErrBuild) {
		t.Fatalf("expected ErrBuild, got %v", err)
	}
	if p.published != nil {
		t.Error("failed build must not publish")
	}
}

func TestRebuild_FailedPublishDiscardsGeneration(t *testing.T) {
	gen := memGeneration(t)
	b := &mockBuilder{rebuildGen: gen}
	p := &mockPublisher{publishErr: domain.ErrPublish}
	svc := newTestService(b, p, nil, nil)

	err := svc.Rebuild(context.Background())
	if !errors.Is(err, domain.ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}
	if b.discarded != gen {
		t.Error("expected refused generation to be discarded")
	}
	if b.replayed {
		t.Error("must not replay after a refused publish")
	}
}

func TestStartRebuild_RefusedWhileBuilding(t *testing.T) {
	b := &mockBuilder{building: true}
	svc := newTestService(b, &mockPublisher{}, nil, nil)

	started, err := svc.StartRebuild(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if started {
		t.Error("expected refusal while a rebuild is in flight")
	}
}

func TestReloadSynonyms(t *testing.T) {
	r := &mockReloader{}
	svc := newTestService(&mockBuilder{}, &mockPublisher{}, nil, r)

	if err := svc.ReloadSynonyms(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.calls != 1 {
		t.Errorf("expected 1 reload, got %d", r.calls)
	}
}

func TestStatus(t *testing.T) {
	gen := memGeneration(t)
	b := &mockBuilder{building: true}
	p := &mockPublisher{live: gen}
	svc := newTestService(b, p, nil, nil)

	st, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.GenerationID != gen.ID() {
		t.Errorf("unexpected generation id %q", st.GenerationID)
	}
	if !st.Building {
		t.Error("expected building flag")
	}
	if st.DocCount != 0 {
		t.Errorf("expected empty generation, got %d docs", st.DocCount)
	}
}

func TestStatus_NoLiveGeneration(t *testing.T) {
	svc := newTestService(&mockBuilder{}, &mockPublisher{}, nil, nil)

	st, err := svc.Status(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.GenerationID != "" {
		t.Errorf("expected empty generation id, got %q", st.GenerationID)
	}
}
