package database

import (
	"path/filepath"
	"testing"
)

func indexEmbedding(id, name string, seed float32) MemberEmbedding {
	emb := make([]float32, 512)
	for i := range emb {
		emb[i] = seed
	}
	return MemberEmbedding{MemberID: id, Name: name, Embedding: emb}
}

func TestMemberIndexSearch(t *testing.T) {
	idx := NewMemberIndex()
	err := idx.Build([]MemberEmbedding{
		indexEmbedding("m1", "Alice", 0.1),
		indexEmbedding("m2", "Bob", 0.5),
		indexEmbedding("m3", "Carol", 0.9),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if idx.Count() != 3 {
		t.Fatalf("expected 3 members, got %d", idx.Count())
	}

	query := make([]float32, 512)
	for i := range query {
		query[i] = 0.48
	}

	hits, err := idx.Search(query, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].MemberID != "m2" || hits[0].Name != "Bob" {
		t.Errorf("expected m2/Bob first, got %s/%s", hits[0].MemberID, hits[0].Name)
	}
	if hits[0].Distance >= hits[1].Distance {
		t.Errorf("hits not sorted by distance: %v then %v", hits[0].Distance, hits[1].Distance)
	}
}

func TestMemberIndexRemove(t *testing.T) {
	idx := NewMemberIndex()
	if err := idx.Build([]MemberEmbedding{indexEmbedding("m1", "Alice", 0.1)}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	idx.Remove("m1")
	if idx.Count() != 0 {
		t.Errorf("expected empty index after remove, got %d", idx.Count())
	}

	query := make([]float32, 512)
	hits, err := idx.Search(query, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("removed member must not appear in results, got %d hits", len(hits))
	}
}

func TestMemberIndexEmpty(t *testing.T) {
	idx := NewMemberIndex()
	if !idx.IsEmpty() {
		t.Error("new index must be empty")
	}
	if _, err := idx.Search(make([]float32, 512), 1); err == nil {
		t.Error("search on uninitialized index must fail")
	}

	if err := idx.Build(nil); err != nil {
		t.Fatalf("Build with no embeddings failed: %v", err)
	}
	if !idx.IsEmpty() {
		t.Error("index built from nothing must stay empty")
	}
}

func TestMemberIndexSaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "members.idx")

	idx := NewMemberIndex()
	embeddings := []MemberEmbedding{
		indexEmbedding("m1", "Alice", 0.1),
		indexEmbedding("m2", "Bob", 0.7),
	}
	if err := idx.Build(embeddings); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := idx.Save(path, 2); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	metadata, err := LoadMemberIndexMetadata(path)
	if err != nil {
		t.Fatalf("LoadMemberIndexMetadata failed: %v", err)
	}
	if metadata.MemberCount != 2 {
		t.Errorf("expected member count 2, got %d", metadata.MemberCount)
	}

	loaded := NewMemberIndex()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Count() != 2 {
		t.Fatalf("expected 2 members after load, got %d", loaded.Count())
	}

	query := make([]float32, 512)
	for i := range query {
		query[i] = 0.1
	}
	hits, err := loaded.Search(query, 1)
	if err != nil {
		t.Fatalf("Search after load failed: %v", err)
	}
	if len(hits) != 1 || hits[0].MemberID != "m1" {
		t.Fatalf("unexpected hits after load: %+v", hits)
	}
}

func TestMemberIndexSaveEmptyRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "members.idx")

	idx := NewMemberIndex()
	if err := idx.Build([]MemberEmbedding{indexEmbedding("m1", "Alice", 0.1)}); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := idx.Save(path, 1); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := idx.Build(nil); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if err := idx.Save(path, 0); err != nil {
		t.Fatalf("Save of empty index failed: %v", err)
	}
	if _, err := LoadMemberIndexMetadata(path); err == nil {
		t.Error("metadata file should be removed for empty index")
	}
}
