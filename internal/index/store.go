// Package index owns the physical index lifecycle: generation storage,
// the full-rebuild and incremental write paths, and the alias that queries
// read through. Each generation is one complete bleve index; the alias is
// repointed atomically at cutover so queries never observe a mixture of
// generations.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const genPrefix = "gen-"

// Generation is one physical index build. Opaque to everything outside
// this package; queries reach it only through the alias.
type Generation struct {
	id   string
	path string // empty for in-memory generations
	idx  bleve.Index
}

// ID returns the opaque generation identifier.
func (g *Generation) ID() string { return g.id }

// DocCount returns the number of indexed documents.
func (g *Generation) DocCount() (uint64, error) {
	count, err := g.idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("doc count: %w", err)
	}
	return count, nil
}

// Close releases the underlying index without deleting its files.
func (g *Generation) Close() error {
	if err := g.idx.Close(); err != nil {
		return fmt.Errorf("close generation %s: %w", g.id, err)
	}
	return nil
}

// Store creates, reopens, and destroys index generations under one root
// directory. An empty root keeps generations in memory (tests).
type Store struct {
	root   string
	logger *zap.Logger
}

// NewStore creates a generation store.
func NewStore(root string, logger *zap.Logger) *Store {
	return &Store{root: root, logger: logger}
}

// Create builds a fresh, empty generation with the given mapping. The
// mapping (analyzers, synonym groups) is fixed for the generation's
// lifetime.
func (s *Store) Create(im mapping.IndexMapping) (*Generation, error) {
	id := genPrefix + uuid.NewString()

	if s.root == "" {
		idx, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, fmt.Errorf("create in-memory generation: %w", err)
		}
		return &Generation{id: id, idx: idx}, nil
	}

	path := filepath.Join(s.root, id)
	idx, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("create generation %s: %w", id, err)
	}
	return &Generation{id: id, path: path, idx: idx}, nil
}

// Open reopens a persisted generation by id. The stored mapping travels
// with the index, so reopened generations keep their baked-in analyzers.
func (s *Store) Open(id string) (*Generation, error) {
	if s.root == "" {
		return nil, fmt.Errorf("open generation %s: in-memory store holds no persisted generations", id)
	}
	path := filepath.Join(s.root, id)
	idx, err := bleve.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open generation %s: %w", id, err)
	}
	return &Generation{id: id, path: path, idx: idx}, nil
}

// Destroy closes a generation and removes its files.
func (s *Store) Destroy(gen *Generation) error {
	if err := gen.idx.Close(); err != nil {
		return fmt.Errorf("destroy generation %s: close: %w", gen.id, err)
	}
	if gen.path != "" {
		if err := os.RemoveAll(gen.path); err != nil {
			return fmt.Errorf("destroy generation %s: %w", gen.id, err)
		}
	}
	s.logger.Info("generation destroyed", zap.String("generation", gen.id))
	return nil
}

// Sweep removes generation directories not present in keep. Run at startup
// to collect generations orphaned by an unclean shutdown.
func (s *Store) Sweep(keep map[string]bool) error {
	if s.root == "" {
		return nil
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("sweep: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), genPrefix) || keep[e.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("sweep %s: %w", e.Name(), err)
		}
		s.logger.Info("orphaned generation swept", zap.String("generation", e.Name()))
	}
	return nil
}

const manifestFile = "manifest.json"

type manifest struct {
	Live string `json:"live"`
}

// LoadManifest returns the live generation id recorded by the last
// successful cutover, or "" when none exists.
func (s *Store) LoadManifest() (string, error) {
	if s.root == "" {
		return "", nil
	}
	data, err := os.ReadFile(filepath.Join(s.root, manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("load manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("load manifest: %w", err)
	}
	return m.Live, nil
}

// SaveManifest atomically records the live generation id.
func (s *Store) SaveManifest(liveID string) error {
	if s.root == "" {
		return nil
	}
	data, err := json.Marshal(manifest{Live: liveID})
	if err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	tmp := filepath.Join(s.root, manifestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.root, manifestFile)); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}
