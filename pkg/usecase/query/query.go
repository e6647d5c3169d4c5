// Package query provides ranked read-only search over consolidated memory.
// Results blend text relevance with item confidence; an empty or missing
// memory yields an empty result, never an error.
package query

import (
	"context"
	"sort"

	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/policy"
	"github.com/m-mizutani/recall/pkg/repository"
	"github.com/m-mizutani/recall/pkg/similarity"
)

// relevance dominates ranking; confidence breaks the near-ties
const (
	relevanceWeight  = 0.7
	confidenceWeight = 0.3
)

type Engine struct {
	repo     repository.Repository
	strategy similarity.Strategy
}

func New(repo repository.Repository, pol *policy.Policy) (*Engine, error) {
	strategy, err := similarity.New(pol.Strategy)
	if err != nil {
		return nil, err
	}
	return &Engine{repo: repo, strategy: strategy}, nil
}

// Result is one ranked hit.
type Result struct {
	Item  model.ItemView
	Score float64
}

// Query ranks the project's memory items against the query text. limit <= 0
// means unlimited.
func (e *Engine) Query(ctx context.Context, project, text string, limit int) ([]Result, error) {
	memory, err := e.repo.GetMemory(ctx, project)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var results []Result
	for _, item := range memory.Items() {
		relevance := e.strategy.Score(text, item.Text+" "+item.Detail)
		if relevance <= 0 {
			continue
		}
		results = append(results, Result{
			Item:  item,
			Score: relevanceWeight*relevance + confidenceWeight*item.Confidence,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Item.ID < results[j].Item.ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
