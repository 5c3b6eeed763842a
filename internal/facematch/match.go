// Package facematch implements the pure face-to-member assignment algorithm.
// It has no storage or transport dependencies; callers feed it query
// embeddings from a submitted photo and candidate embeddings from enrolled
// members, and it produces a mutually exclusive one-to-one assignment.
package facematch

// Query is one detected face from a submitted photo.
type Query struct {
	Index     int // position in the submission, preserved in results
	Embedding []float32
}

// Candidate is one enrolled member eligible for matching.
type Candidate struct {
	MemberID  string
	Embedding []float32
}

// Assignment is the outcome for a single query. MemberID is empty when the
// query matched no candidate; Distance is only meaningful for matched
// queries.
type Assignment struct {
	MemberID   string
	QueryIndex int
	Distance   float64
}

// Matched reports whether the query claimed a candidate.
func (a Assignment) Matched() bool {
	return a.MemberID != ""
}

// Assign pairs queries with candidates using greedy nearest-neighbor
// selection under an inclusive distance threshold.
//
// Queries are processed in input order. Each query claims the closest
// still-unassigned candidate (ties broken by candidate input order) if its
// distance is <= threshold; a claimed candidate is removed from
// consideration for all later queries, so no candidate is ever assigned
// twice within one call. Queries whose best distance exceeds the threshold,
// or that find no candidates left, yield an unmatched Assignment.
//
// Greedy order-of-arrival is deliberate: candidate pools are the pending
// members of one class, typically tens of entries, where near-tie duplicates
// are rare and a globally optimal bipartite matching buys nothing.
func Assign(queries []Query, candidates []Candidate, threshold float64) []Assignment {
	results := make([]Assignment, 0, len(queries))
	if len(queries) == 0 {
		return results
	}

	taken := make([]bool, len(candidates))

	for _, q := range queries {
		best := -1
		bestDist := 0.0
		for i := range candidates {
			if taken[i] {
				continue
			}
			d := EuclideanDistance(q.Embedding, candidates[i].Embedding)
			if best == -1 || d < bestDist {
				best = i
				bestDist = d
			}
		}

		if best == -1 || bestDist > threshold {
			results = append(results, Assignment{QueryIndex: q.Index})
			continue
		}

		taken[best] = true
		results = append(results, Assignment{
			MemberID:   candidates[best].MemberID,
			QueryIndex: q.Index,
			Distance:   bestDist,
		})
	}

	return results
}
