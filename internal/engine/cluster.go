package engine

import (
	"context"
	"fmt"

	"github.com/jacklau/affinity/internal/similarity"
)

// clusterView is a cluster prepared for comparison: keywords as a normalized
// set and, when requested and available, its description embedding.
type clusterView struct {
	cluster  InterestCluster
	keywords map[string]struct{}
	vec      []float32
}

func newClusterView(c InterestCluster) clusterView {
	return clusterView{cluster: c, keywords: similarity.KeywordSet(c.Keywords)}
}

// ScoreClusters scores two clusters with the engine's default weights.
func (e *Engine) ScoreClusters(ctx context.Context, a, b InterestCluster) (float64, error) {
	return e.ScoreClustersWithWeights(ctx, a, b, e.weights)
}

// ScoreClustersWithWeights scores two clusters as the weighted average of
// description, keyword and mood similarity. A failed embedding makes the
// description signal 0; embeddings of different lengths are an error.
func (e *Engine) ScoreClustersWithWeights(ctx context.Context, a, b InterestCluster, w similarity.Weights) (float64, error) {
	nw, err := w.Normalize()
	if err != nil {
		return 0, err
	}

	va, vb := newClusterView(a), newClusterView(b)
	if nw.Description > 0 && a.HasDescription() && b.HasDescription() {
		va.vec = e.describe(ctx, a.Description)
		if va.vec != nil {
			vb.vec = e.describe(ctx, b.Description)
		}
	}

	score, err := e.combine(va, vb, nw)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	e.note(ctx, LevelCluster, score)
	return score, nil
}

// describe embeds a description, returning nil and logging the fallback when
// no usable vector is available.
func (e *Engine) describe(ctx context.Context, text string) []float32 {
	vec, err := e.embed(ctx, text)
	if err != nil {
		e.fallback(ctx, "description", err)
		return nil
	}
	return vec
}

// combine computes the weighted cluster score from prepared views. nw must be
// normalized.
func (e *Engine) combine(a, b clusterView, nw similarity.Weights) (float64, error) {
	var desc float64
	if a.vec != nil && b.vec != nil {
		cos, err := similarity.CosineSimilarity(a.vec, b.vec)
		if err != nil {
			e.logger.Error("comparing description embeddings", "error", err)
			return 0, fmt.Errorf("description similarity: %w", err)
		}
		desc = max(cos, 0)
	}

	kw := similarity.JaccardSets(a.keywords, b.keywords)
	mood := e.moods.Similarity(a.cluster.Mood, b.cluster.Mood)
	return nw.Combine(desc, kw, mood), nil
}
