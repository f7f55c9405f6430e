package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2"
	"go.uber.org/zap"

	"github.com/supportal/kbsearch/internal/domain"
)

func makeGeneration(t *testing.T, s *Store, docs int) *Generation {
	t.Helper()
	gen, err := s.Create(bleve.NewIndexMapping())
	if err != nil {
		t.Fatalf("create generation: %v", err)
	}
	for i := 0; i < docs; i++ {
		id := string(rune('a' + i))
		if err := gen.idx.Index("article:"+id, map[string]interface{}{"title": "doc " + id}); err != nil {
			t.Fatalf("index: %v", err)
		}
	}
	return gen
}

func TestAliasManager_SearchWithoutLiveGeneration(t *testing.T) {
	m := NewAliasManager(NewStore("", zap.NewNop()), AliasConfig{}, zap.NewNop())

	_, err := m.Search(context.Background(), bleve.NewSearchRequest(bleve.NewMatchAllQuery()))
	if !errors.Is(err, domain.ErrNoLiveGeneration) {
		t.Fatalf("expected ErrNoLiveGeneration, got %v", err)
	}
}

func TestAliasManager_PublishAndSearch(t *testing.T) {
	s := NewStore("", zap.NewNop())
	m := NewAliasManager(s, AliasConfig{}, zap.NewNop())
	gen := makeGeneration(t, s, 2)

	if err := m.Publish(context.Background(), gen); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if m.Live() != gen {
		t.Error("expected published generation to be live")
	}

	res, err := m.Search(context.Background(), bleve.NewSearchRequest(bleve.NewMatchAllQuery()))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 2 {
		t.Errorf("expected 2 hits, got %d", res.Total)
	}
}

func TestAliasManager_PublishRefusesSmallGeneration(t *testing.T) {
	s := NewStore("", zap.NewNop())
	m := NewAliasManager(s, AliasConfig{MinDocCount: 10}, zap.NewNop())
	gen := makeGeneration(t, s, 2)
	defer func() { _ = gen.Close() }()

	err := m.Publish(context.Background(), gen)
	if !errors.Is(err, domain.ErrPublish) {
		t.Fatalf("expected ErrPublish, got %v", err)
	}
	if m.Live() != nil {
		t.Error("refused publish must not change the live generation")
	}
}

func TestAliasManager_PublishConcurrentRefused(t *testing.T) {
	s := NewStore("", zap.NewNop())
	m := NewAliasManager(s, AliasConfig{}, zap.NewNop())
	gen := makeGeneration(t, s, 1)
	defer func() { _ = gen.Close() }()

	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	err := m.Publish(context.Background(), gen)
	if !errors.Is(err, domain.ErrPublishInProgress) {
		t.Fatalf("expected ErrPublishInProgress, got %v", err)
	}
}

func TestAliasManager_CutoverReplacesOldGeneration(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, zap.NewNop())
	m := NewAliasManager(s, AliasConfig{RetentionGrace: time.Millisecond}, zap.NewNop())

	first := makeGeneration(t, s, 1)
	if err := m.Publish(context.Background(), first); err != nil {
		t.Fatalf("publish first: %v", err)
	}

	second := makeGeneration(t, s, 3)
	if err := m.Publish(context.Background(), second); err != nil {
		t.Fatalf("publish second: %v", err)
	}
	if m.Live() != second {
		t.Error("expected second generation to be live")
	}

	// Queries now see the new generation only.
	res, err := m.Search(context.Background(), bleve.NewSearchRequest(bleve.NewMatchAllQuery()))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.Total != 3 {
		t.Errorf("expected 3 hits from new generation, got %d", res.Total)
	}

	// The replaced generation is deleted after the grace period.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(root, first.ID())); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("replaced generation not deleted after grace period")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// markedGeneration builds a generation whose doc ids all carry the same
// marker, so a search result can be attributed to one generation.
func markedGeneration(t *testing.T, s *Store, marker string, docs int) *Generation {
	t.Helper()
	gen, err := s.Create(bleve.NewIndexMapping())
	if err != nil {
		t.Fatalf("create generation: %v", err)
	}
	for i := 0; i < docs; i++ {
		id := fmt.Sprintf("article:%s-%d", marker, i)
		if err := gen.idx.Index(id, map[string]interface{}{"title": "doc " + id}); err != nil {
			t.Fatalf("index: %v", err)
		}
	}
	return gen
}

func hitMarker(id string) string {
	id = strings.TrimPrefix(id, "article:")
	if i := strings.IndexByte(id, '-'); i >= 0 {
		return id[:i]
	}
	return id
}

func TestAliasManager_CutoverIsAtomicUnderConcurrentQueries(t *testing.T) {
	s := NewStore("", zap.NewNop())
	// Long grace so no replaced generation is destroyed while queries are
	// in flight.
	m := NewAliasManager(s, AliasConfig{RetentionGrace: time.Minute}, zap.NewNop())

	if err := m.Publish(context.Background(), markedGeneration(t, s, "g0", 8)); err != nil {
		t.Fatalf("publish g0: %v", err)
	}

	done := make(chan struct{})
	errs := make(chan error, 4)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), 50, 0, false)
				res, err := m.Search(context.Background(), req)
				if err != nil {
					errs <- fmt.Errorf("search: %w", err)
					return
				}
				if len(res.Hits) == 0 {
					errs <- fmt.Errorf("empty result set during cutover")
					return
				}
				marker := hitMarker(res.Hits[0].ID)
				for _, h := range res.Hits[1:] {
					if got := hitMarker(h.ID); got != marker {
						errs <- fmt.Errorf("result set mixes generations %s and %s", marker, got)
						return
					}
				}
			}
		}()
	}

	for i := 1; i <= 5; i++ {
		gen := markedGeneration(t, s, fmt.Sprintf("g%d", i), 8)
		if err := m.Publish(context.Background(), gen); err != nil {
			t.Fatalf("publish g%d: %v", i, err)
		}
	}

	close(done)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestAliasManager_ManifestRecordsCutover(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, zap.NewNop())
	m := NewAliasManager(s, AliasConfig{RetentionGrace: time.Minute}, zap.NewNop())

	gen := makeGeneration(t, s, 1)
	if err := m.Publish(context.Background(), gen); err != nil {
		t.Fatalf("publish: %v", err)
	}

	live, err := s.LoadManifest()
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if live != gen.ID() {
		t.Errorf("manifest records %q, want %q", live, gen.ID())
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestAliasManager_Recover(t *testing.T) {
	root := t.TempDir()

	// First process lifetime: publish a generation, leave an orphan behind.
	s := NewStore(root, zap.NewNop())
	m := NewAliasManager(s, AliasConfig{}, zap.NewNop())
	gen := makeGeneration(t, s, 2)
	if err := m.Publish(context.Background(), gen); err != nil {
		t.Fatalf("publish: %v", err)
	}
	liveID := gen.ID()
	if err := gen.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "gen-orphan"), 0o750); err != nil {
		t.Fatalf("mkdir orphan: %v", err)
	}

	// Second process lifetime.
	s2 := NewStore(root, zap.NewNop())
	m2 := NewAliasManager(s2, AliasConfig{}, zap.NewNop())
	if err := m2.Recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}
	defer func() { _ = m2.Close() }()

	live := m2.Live()
	if live == nil || live.ID() != liveID {
		t.Fatalf("expected recovered live generation %s, got %v", liveID, live)
	}

	res, err := m2.Search(context.Background(), bleve.NewSearchRequest(bleve.NewMatchAllQuery()))
	if err != nil {
		t.Fatalf("search after recover: %v", err)
	}
	if res.Total != 2 {
		t.Errorf("expected 2 hits after recover, got %d", res.Total)
	}

	if _, err := os.Stat(filepath.Join(root, "gen-orphan")); !os.IsNotExist(err) {
		t.Error("orphan generation survived recover sweep")
	}
}

func TestAliasManager_RecoverEmptyRoot(t *testing.T) {
	s := NewStore(t.TempDir(), zap.NewNop())
	m := NewAliasManager(s, AliasConfig{}, zap.NewNop())

	if err := m.Recover(); err != nil {
		t.Fatalf("recover with no manifest: %v", err)
	}
	if m.Live() != nil {
		t.Error("expected no live generation")
	}
}
