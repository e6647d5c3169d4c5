package consolidate

import (
	"sort"
	"strings"

	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/similarity"
)

// markConflicts detects decisions that address the same subject but survived
// clustering as separate items, meaning their full content disagreed. Such
// groups are never silently resolved: every member keeps a shared
// conflict_group_id, the most recent one is active and the rest are
// superseded.
func markConflicts(decisions []*model.DecisionMemory, s similarity.Strategy, threshold float64) {
	// subject matching ignores the rationale, so it needs a laxer bar than
	// the full-content clustering that kept these items apart
	threshold *= 0.8

	for _, d := range decisions {
		d.Status = model.DecisionActive
		d.ConflictGroupID = ""
	}

	parent := make([]int, len(decisions))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	for i := 0; i < len(decisions); i++ {
		for j := i + 1; j < len(decisions); j++ {
			if s.Score(decisions[i].Decision, decisions[j].Decision) >= threshold {
				parent[find(i)] = find(j)
			}
		}
	}

	groups := make(map[int][]int)
	for i := range decisions {
		root := find(i)
		groups[root] = append(groups[root], i)
	}

	for _, members := range groups {
		if len(members) < 2 {
			continue
		}

		ids := make([]string, 0, len(members))
		for _, i := range members {
			ids = append(ids, decisions[i].ID)
		}
		sort.Strings(ids)
		groupID := model.NewItemID(model.CategoryDecision, "conflict:"+strings.Join(ids, ","))

		// newest decision wins; ties break on id so reruns agree
		active := members[0]
		for _, i := range members[1:] {
			switch {
			case decisions[i].LastSeen.After(decisions[active].LastSeen):
				active = i
			case decisions[i].LastSeen.Equal(decisions[active].LastSeen) && decisions[i].ID > decisions[active].ID:
				active = i
			}
		}

		for _, i := range members {
			decisions[i].ConflictGroupID = groupID
			if i == active {
				decisions[i].Status = model.DecisionActive
			} else {
				decisions[i].Status = model.DecisionSuperseded
			}
		}
	}
}
