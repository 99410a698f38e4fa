package retrieval

import (
	"testing"

	"github.com/mexar/ragcore/store"
)

func TestFuseRRF(t *testing.T) {
	vec := []store.RetrievalResult{{ChunkID: 1}, {ChunkID: 2}, {ChunkID: 3}}
	fts := []store.RetrievalResult{{ChunkID: 2}, {ChunkID: 4}}

	fused, info := fuseRRF(vec, fts, 1.0, 1.0, 10, 60)
	if len(fused) != 4 {
		t.Fatalf("expected 4 unique chunks, got %d", len(fused))
	}
	// Chunk 2 appears in both lists at good ranks, so it should win.
	if fused[0].ChunkID != 2 {
		t.Errorf("expected chunk 2 to rank first, got %d", fused[0].ChunkID)
	}
	i := info[2]
	if i.VecRank != 2 || i.FTSRank != 1 {
		t.Errorf("chunk 2 ranks: vec=%d fts=%d, want vec=2 fts=1", i.VecRank, i.FTSRank)
	}
}

func TestFuseRRFMaxResults(t *testing.T) {
	vec := []store.RetrievalResult{{ChunkID: 1}, {ChunkID: 2}, {ChunkID: 3}}
	fused, _ := fuseRRF(vec, nil, 1.0, 1.0, 2, 60)
	if len(fused) != 2 {
		t.Fatalf("expected 2 results with maxResults=2, got %d", len(fused))
	}
}

func TestFuseRRFEmptyInputs(t *testing.T) {
	fused, info := fuseRRF(nil, nil, 1.0, 1.0, 10, 60)
	if len(fused) != 0 || len(info) != 0 {
		t.Fatalf("expected empty results for empty inputs, got %d/%d", len(fused), len(info))
	}
}

func TestFuseRRFWeightZero(t *testing.T) {
	vec := []store.RetrievalResult{{ChunkID: 1}}
	fts := []store.RetrievalResult{{ChunkID: 2}}
	fused, _ := fuseRRF(vec, fts, 1.0, 0.0, 10, 60)
	// FTS result still appears (weight 0 just zeroes its score contribution).
	if len(fused) != 2 {
		t.Fatalf("expected 2 results, got %d", len(fused))
	}
	for _, r := range fused {
		if r.ChunkID == 2 && r.Score != 0 {
			t.Errorf("expected chunk 2 score 0 with fts weight 0, got %f", r.Score)
		}
	}
}

func TestFuseRRFTieBreakOnChunkID(t *testing.T) {
	// Neither chunk is in the dense list and the sparse weight is 0, so
	// both scores are 0 and neither has a dense rank (tie); the lower
	// chunk_id must win even though chunk 9 ranks first in the sparse list.
	fts := []store.RetrievalResult{{ChunkID: 9}, {ChunkID: 5}}
	fused, _ := fuseRRF(nil, fts, 1.0, 0.0, 10, 60)
	if fused[0].ChunkID != 5 {
		t.Errorf("expected lower chunk_id to win tie, got %d", fused[0].ChunkID)
	}
}

func TestSanitizeFTSQuery(t *testing.T) {
	q := sanitizeFTSQuery("What is the ISO 9001 standard?")
	if q == "" {
		t.Fatal("expected non-empty sanitized query")
	}
}

func TestSanitizeFTSQueryEmpty(t *testing.T) {
	q := sanitizeFTSQuery("   ")
	if q != "   " {
		t.Errorf("expected original (no words found) query unchanged, got %q", q)
	}
}

func TestIsStopWord(t *testing.T) {
	if !isStopWord("the") {
		t.Error("expected 'the' to be a stop word")
	}
	if isStopWord("iso") {
		t.Error("expected 'iso' to not be a stop word")
	}
}

func TestSearchEmptyQueryReturnsEmpty(t *testing.T) {
	e := &Engine{cfg: DefaultConfig()}
	results, trace, err := e.Search(nil, 1, "   ", SearchOptions{})
	if err != nil {
		t.Fatalf("expected no error for blank query, got %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty results for blank query, got %d", len(results))
	}
	if trace == nil {
		t.Fatal("expected a non-nil trace even for the empty-query short-circuit")
	}
}
