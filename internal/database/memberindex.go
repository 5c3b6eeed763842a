package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/rollcall-io/rollcall/internal/facematch"
)

const (
	indexMaxNeighbors    = 16
	indexMetadataVersion = 1
)

// MemberIndexMetadata validates a cached index against the database state
// and carries the member names the graph file cannot hold.
type MemberIndexMetadata struct {
	MemberCount int64             `json:"member_count"`
	Names       map[string]string `json:"names"`
	BuildTime   time.Time         `json:"build_time"`
	Version     int               `json:"version"`
}

// IndexHit is one nearest-neighbor result from the member index.
type IndexHit struct {
	MemberID string  `json:"member_id"`
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

// MemberIndex is an in-memory HNSW graph over enrolled member embeddings,
// keyed by member ID and searched with Euclidean distance.
type MemberIndex struct {
	graph      *hnsw.Graph[string]
	savedGraph *hnsw.SavedGraph[string]
	names      map[string]string
	mu         sync.RWMutex
}

// NewMemberIndex creates an empty member index.
func NewMemberIndex() *MemberIndex {
	return &MemberIndex{names: make(map[string]string)}
}

func newMemberGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = indexMaxNeighbors
	g.Ml = 1.0 / float64(indexMaxNeighbors)
	g.Distance = hnsw.EuclideanDistance
	return g
}

// Build replaces the index contents with the given embeddings.
func (idx *MemberIndex) Build(embeddings []MemberEmbedding) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.savedGraph = nil
	idx.names = make(map[string]string, len(embeddings))

	if len(embeddings) == 0 {
		idx.graph = nil
		return nil
	}

	g := newMemberGraph()
	for _, emb := range embeddings {
		if len(emb.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(emb.MemberID, emb.Embedding))
		idx.names[emb.MemberID] = emb.Name
	}

	idx.graph = g
	return nil
}

// Add inserts or replaces a single member embedding.
func (idx *MemberIndex) Add(emb MemberEmbedding) {
	if len(emb.Embedding) == 0 {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.graph == nil {
		idx.graph = newMemberGraph()
	}
	idx.graph.Add(hnsw.MakeNode(emb.MemberID, emb.Embedding))
	idx.names[emb.MemberID] = emb.Name
}

// Remove drops a member from search results. The underlying graph keeps the
// node; results are filtered through the names map on lookup.
func (idx *MemberIndex) Remove(memberID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.names, memberID)
}

// Search returns up to k nearest enrolled members with Euclidean distances.
func (idx *MemberIndex) Search(query []float32, k int) ([]IndexHit, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph == nil && idx.savedGraph == nil {
		return nil, errors.New("member index not initialized")
	}

	var neighbors []hnsw.Node[string]
	if idx.savedGraph != nil {
		neighbors = idx.savedGraph.Search(query, k)
	} else {
		neighbors = idx.graph.Search(query, k)
	}

	hits := make([]IndexHit, 0, len(neighbors))
	for _, n := range neighbors {
		name, ok := idx.names[n.Key]
		if !ok {
			continue // removed member
		}
		hits = append(hits, IndexHit{
			MemberID: n.Key,
			Name:     name,
			Distance: facematch.EuclideanDistance(query, n.Value),
		})
	}

	return hits, nil
}

// Count returns the number of searchable members.
func (idx *MemberIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.names)
}

// IsEmpty reports whether no graph data is loaded.
func (idx *MemberIndex) IsEmpty() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.graph == nil && idx.savedGraph == nil
}

// Save persists the graph and its metadata sidecar to disk. An empty index
// removes any stale files instead.
func (idx *MemberIndex) Save(path string, memberCount int64) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph == nil && idx.savedGraph == nil {
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path comes from trusted config
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()

	if idx.savedGraph != nil {
		err = idx.savedGraph.Export(f)
	} else {
		err = idx.graph.Export(f)
	}
	if err != nil {
		return fmt.Errorf("export member index: %w", err)
	}

	metadata := MemberIndexMetadata{
		MemberCount: memberCount,
		Names:       idx.names,
		BuildTime:   time.Now().UTC(),
		Version:     indexMetadataVersion,
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal index metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", data, 0600); err != nil {
		return fmt.Errorf("write index metadata: %w", err)
	}

	return nil
}

// LoadMemberIndexMetadata reads the metadata sidecar for a cached index.
func LoadMemberIndexMetadata(path string) (MemberIndexMetadata, error) {
	var metadata MemberIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path comes from trusted config
	if err != nil {
		return metadata, fmt.Errorf("read index metadata: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("unmarshal index metadata: %w", err)
	}

	return metadata, nil
}

// Load restores a previously saved index from disk.
func (idx *MemberIndex) Load(path string) error {
	metadata, err := LoadMemberIndexMetadata(path)
	if err != nil {
		return err
	}
	if metadata.Version != indexMetadataVersion {
		return fmt.Errorf("unsupported index metadata version %d", metadata.Version)
	}

	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return fmt.Errorf("load member index: %w", err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.graph = nil
	idx.savedGraph = saved
	idx.names = metadata.Names
	if idx.names == nil {
		idx.names = make(map[string]string)
	}

	return nil
}
