package retrieval

import (
	"sort"

	"github.com/mexar/ragcore/store"
)

// defaultRRFK is the standard RRF constant from the literature, used
// whenever Config.RRFK is left unset.
const defaultRRFK = 60

// FusedResultInfo holds per-result method contribution metadata.
type FusedResultInfo struct {
	Methods []string `json:"methods"`
	VecRank int      `json:"vec_rank,omitempty"` // 1-based, 0 = not present
	FTSRank int      `json:"fts_rank,omitempty"` // 1-based, 0 = not present
}

// fuseRRF implements Reciprocal Rank Fusion to combine dense and sparse
// result lists. Each list is ranked independently, then scores are
// combined: score = sum(weight_i / (k + rank_i)). Ties break on higher
// dense rank, then lower chunk_id.
func fuseRRF(
	vecResults, ftsResults []store.RetrievalResult,
	weightVec, weightFTS float64,
	maxResults, k int,
) ([]store.RetrievalResult, map[int64]FusedResultInfo) {
	if k <= 0 {
		k = defaultRRFK
	}
	type fusedEntry struct {
		result store.RetrievalResult
		score  float64
		info   FusedResultInfo
	}

	fused := make(map[int64]*fusedEntry)

	for rank, r := range vecResults {
		entry, ok := fused[r.ChunkID]
		if !ok {
			entry = &fusedEntry{result: r}
			fused[r.ChunkID] = entry
		}
		entry.score += weightVec / float64(k+rank+1)
		entry.info.Methods = append(entry.info.Methods, "vector")
		entry.info.VecRank = rank + 1
	}

	for rank, r := range ftsResults {
		entry, ok := fused[r.ChunkID]
		if !ok {
			entry = &fusedEntry{result: r}
			fused[r.ChunkID] = entry
		}
		entry.score += weightFTS / float64(k+rank+1)
		entry.info.Methods = append(entry.info.Methods, "fts")
		entry.info.FTSRank = rank + 1
	}

	entries := make([]*fusedEntry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		// Tie-breaker: higher dense rank wins (smaller VecRank is better;
		// 0 means absent, which loses to any present rank).
		vi, vj := entries[i].info.VecRank, entries[j].info.VecRank
		if vi == 0 {
			vi = 1 << 30
		}
		if vj == 0 {
			vj = 1 << 30
		}
		if vi != vj {
			return vi < vj
		}
		return entries[i].result.ChunkID < entries[j].result.ChunkID
	})

	if maxResults > 0 && len(entries) > maxResults {
		entries = entries[:maxResults]
	}

	results := make([]store.RetrievalResult, len(entries))
	infoMap := make(map[int64]FusedResultInfo, len(entries))
	for i, e := range entries {
		results[i] = e.result
		results[i].Score = e.score
		infoMap[e.result.ChunkID] = e.info
	}

	return results, infoMap
}
