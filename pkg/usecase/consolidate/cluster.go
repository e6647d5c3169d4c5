package consolidate

import (
	"sort"
	"time"

	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/similarity"
)

// candidate is one extracted item entering clustering, tagged with its
// fingerprint key and provenance.
type candidate[T any] struct {
	item    T
	key     string
	session model.SessionID
	seen    time.Time
}

// cluster is a group of candidates judged to mean the same thing. The key of
// the first member acts as the cluster representative.
type cluster[T any] struct {
	key     string
	members []candidate[T]
}

// clusterCandidates greedily groups candidates whose fingerprints score at
// or above the threshold against a cluster representative. Candidates are
// sorted first, so the result does not depend on input record order.
func clusterCandidates[T any](cands []candidate[T], s similarity.Strategy, threshold float64) []*cluster[T] {
	sorted := make([]candidate[T], len(cands))
	copy(sorted, cands)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].key != sorted[j].key {
			return sorted[i].key < sorted[j].key
		}
		return sorted[i].session < sorted[j].session
	})

	var clusters []*cluster[T]
	for _, cand := range sorted {
		best := -1
		bestScore := 0.0
		for i, cl := range clusters {
			score := s.Score(cand.key, cl.key)
			if score >= threshold && score > bestScore {
				best = i
				bestScore = score
			}
		}
		if best >= 0 {
			clusters[best].members = append(clusters[best].members, cand)
			continue
		}
		clusters = append(clusters, &cluster[T]{key: cand.key, members: []candidate[T]{cand}})
	}
	return clusters
}

// provenanceOf derives the merged provenance of a cluster: union of sessions,
// earliest and latest sightings. Confidence is filled in later, once decay
// can be applied uniformly.
func provenanceOf[T any](category model.Category, canonicalText string, cl *cluster[T]) model.Provenance {
	sessions := make(map[model.SessionID]bool)
	var first, last time.Time
	for _, m := range cl.members {
		sessions[m.session] = true
		if first.IsZero() || m.seen.Before(first) {
			first = m.seen
		}
		if m.seen.After(last) {
			last = m.seen
		}
	}

	return model.Provenance{
		ID:          model.NewItemID(category, canonicalText),
		Occurrences: len(sessions),
		Sessions:    sortedSessions(sessions),
		FirstSeen:   first,
		LastSeen:    last,
	}
}

func sortedSessions(set map[model.SessionID]bool) []model.SessionID {
	ids := make([]model.SessionID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// memoryItem is satisfied by all consolidated item types through their
// embedded provenance.
type memoryItem interface {
	Prov() *model.Provenance
}

// reconcile merges this run's items with the previous snapshot's. A current
// item absorbing a previous one accumulates its sessions and keeps the
// earliest first_seen; previous items with no current match carry over
// unchanged, to decay rather than vanish.
func reconcile[M memoryItem](current, previous []M, textOf func(M) string, s similarity.Strategy, threshold float64) []M {
	consumed := make([]bool, len(previous))

	for _, cur := range current {
		best := -1
		bestScore := 0.0
		for i, prev := range previous {
			if consumed[i] {
				continue
			}
			score := s.Score(textOf(cur), textOf(prev))
			if score >= threshold && score > bestScore {
				best = i
				bestScore = score
			}
		}
		if best < 0 {
			continue
		}
		consumed[best] = true
		absorb(cur.Prov(), previous[best].Prov())
	}

	merged := make([]M, 0, len(current)+len(previous))
	merged = append(merged, current...)
	for i, prev := range previous {
		if !consumed[i] {
			merged = append(merged, prev)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		if textOf(merged[i]) != textOf(merged[j]) {
			return textOf(merged[i]) < textOf(merged[j])
		}
		return merged[i].Prov().ID < merged[j].Prov().ID
	})
	return merged
}

// absorb folds a previous item's provenance into the current one. Canonical
// text may change across runs but provenance is never lost.
func absorb(cur, prev *model.Provenance) {
	sessions := make(map[model.SessionID]bool)
	for _, id := range cur.Sessions {
		sessions[id] = true
	}
	for _, id := range prev.Sessions {
		sessions[id] = true
	}
	cur.Sessions = sortedSessions(sessions)
	cur.Occurrences = len(sessions)

	if !prev.FirstSeen.IsZero() && (cur.FirstSeen.IsZero() || prev.FirstSeen.Before(cur.FirstSeen)) {
		cur.FirstSeen = prev.FirstSeen
	}
	if prev.LastSeen.After(cur.LastSeen) {
		cur.LastSeen = prev.LastSeen
	}
}
