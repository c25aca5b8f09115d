package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jacklau/affinity/internal/simcache"
	"github.com/jacklau/affinity/internal/similarity"
)

// layerWeights combine the primary, full-pool and category layers of a user
// score.
var layerWeights = similarity.Weights{Description: 0.6, Keywords: 0.3, Mood: 0.1}

// ScoreUsers scores two bundles with the engine's default weights.
func (e *Engine) ScoreUsers(ctx context.Context, a, b ProfileBundle) (float64, error) {
	return e.ScoreUsersWithWeights(ctx, a, b, e.weights)
}

// ScoreUsersWithWeights returns the cached score of the pair if fresh, and
// otherwise computes, caches and returns it. The cache is keyed by the
// unordered identity pair only, so a fresh entry is returned whatever the
// weights. The weights shape pair aggregation; layered aggregation uses fixed
// layer weights.
func (e *Engine) ScoreUsersWithWeights(ctx context.Context, a, b ProfileBundle, w similarity.Weights) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	nw, err := w.Normalize()
	if err != nil {
		return 0, err
	}

	idA, idB := strings.TrimSpace(a.Identity), strings.TrimSpace(b.Identity)
	key := simcache.NewPairKey(idA, idB)

	entry, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.WarnContext(ctx, "similarity cache read failed", "pair", key.String(), "error", err)
	}
	e.recorder.CacheLookup(ok)
	if ok {
		return entry.Value, nil
	}

	var score float64
	switch {
	case len(a.Clusters) == 0 || len(b.Clusters) == 0:
		score = 0
	case e.aggregation == AggregatePairs:
		score, err = e.scorePairs(ctx, a.Clusters, b.Clusters, nw)
	default:
		score, err = e.scoreLayers(ctx, a, b)
	}
	if err != nil {
		return 0, err
	}

	// Abandoned computations leave the cache untouched.
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := e.cache.Set(ctx, key, score); err != nil {
		e.logger.WarnContext(ctx, "similarity cache write failed", "pair", key.String(), "error", err)
	}

	e.note(ctx, LevelUser, score, "pair", key.String())
	return score, nil
}

// scoreLayers pools keywords per bundle and combines three layers:
// semantic similarity of the primary keywords (Jaccard when embeddings are
// unavailable), Jaccard of all keywords, and Jaccard of mood labels.
// A layer with no data on either side contributes 0.
func (e *Engine) scoreLayers(ctx context.Context, a, b ProfileBundle) (float64, error) {
	pa := bundlePools(a, e.primaryKeywords)
	pb := bundlePools(b, e.primaryKeywords)

	primary, err := e.primaryLayer(ctx, pa.primary, pb.primary)
	if err != nil {
		return 0, err
	}
	full := layerJaccard(pa.full, pb.full)
	category := layerJaccard(pa.moods, pb.moods)

	e.logger.DebugContext(ctx, "user layers",
		"a", a.Identity,
		"b", b.Identity,
		"primary", primary,
		"full", full,
		"category", category,
	)
	return layerWeights.Combine(primary, full, category), nil
}

func (e *Engine) primaryLayer(ctx context.Context, a, b map[string]struct{}) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, nil
	}

	va, err := e.embed(ctx, joinSorted(a))
	var vb []float32
	if err == nil {
		vb, err = e.embed(ctx, joinSorted(b))
	}
	if err != nil {
		e.fallback(ctx, "primary keywords", err)
		return similarity.JaccardSets(a, b), nil
	}

	cos, err := similarity.CosineSimilarity(va, vb)
	if err != nil {
		e.logger.ErrorContext(ctx, "comparing keyword embeddings", "error", err)
		return 0, fmt.Errorf("primary keyword similarity: %w", err)
	}
	return max(cos, 0), nil
}

func layerJaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	return similarity.JaccardSets(a, b)
}

func joinSorted(set map[string]struct{}) string {
	words := make([]string, 0, len(set))
	for w := range set {
		words = append(words, w)
	}
	sort.Strings(words)
	return strings.Join(words, " ")
}

// scorePairs scores every cluster of a against every cluster of b and returns
// the symmetric best-match average: the mean of each row's best score and the
// mean of each column's best score, averaged.
func (e *Engine) scorePairs(ctx context.Context, as, bs []InterestCluster, nw similarity.Weights) (float64, error) {
	va, vb, err := e.prepareViews(ctx, as, bs, nw)
	if err != nil {
		return 0, err
	}

	rowBest := make([]float64, len(va))
	colBest := make([]float64, len(vb))
	for i := range va {
		for j := range vb {
			s, err := e.combine(va[i], vb[j], nw)
			if err != nil {
				return 0, err
			}
			e.note(ctx, LevelCluster, s)
			rowBest[i] = max(rowBest[i], s)
			colBest[j] = max(colBest[j], s)
		}
	}

	return similarity.Clamp01((mean(rowBest) + mean(colBest)) / 2), nil
}

// prepareViews builds views for both sides and embeds each distinct
// description once, with bounded concurrency. Descriptions are embedded only
// when both sides have at least one.
func (e *Engine) prepareViews(ctx context.Context, as, bs []InterestCluster, nw similarity.Weights) ([]clusterView, []clusterView, error) {
	va := make([]clusterView, len(as))
	for i, c := range as {
		va[i] = newClusterView(c)
	}
	vb := make([]clusterView, len(bs))
	for i, c := range bs {
		vb[i] = newClusterView(c)
	}

	if nw.Description == 0 || !anyDescription(as) || !anyDescription(bs) {
		return va, vb, nil
	}

	var texts []string
	seen := make(map[string]int)
	for _, c := range append(append([]InterestCluster(nil), as...), bs...) {
		if !c.HasDescription() {
			continue
		}
		if _, ok := seen[c.Description]; !ok {
			seen[c.Description] = len(texts)
			texts = append(texts, c.Description)
		}
	}

	vecs := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, text := range texts {
		g.Go(func() error {
			vecs[i] = e.describe(gctx, text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	attach := func(views []clusterView) {
		for i := range views {
			if views[i].cluster.HasDescription() {
				views[i].vec = vecs[seen[views[i].cluster.Description]]
			}
		}
	}
	attach(va)
	attach(vb)
	return va, vb, nil
}

func anyDescription(cs []InterestCluster) bool {
	for _, c := range cs {
		if c.HasDescription() {
			return true
		}
	}
	return false
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
