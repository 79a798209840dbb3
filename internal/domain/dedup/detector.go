// Package dedup decides whether a newly described book duplicates an existing
// catalog entry. Two independent similarity spaces (text metadata and cover
// image) are fused into one ranked candidate list; only when the best fused
// score clears a threshold is the expensive pairwise vision comparison run.
package dedup

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hondana-dev/hondana/internal/domain/catalog"
	"github.com/hondana-dev/hondana/internal/infra/llm"
	"github.com/hondana-dev/hondana/internal/infra/vision"
)

// Recommendation values derived from the verified matches.
const (
	RecommendCreateNew   = "create_new"
	RecommendNeedsReview = "needs_review"
	RecommendUseExisting = "use_existing"
)

// Item is the incoming book description to check against the catalog.
type Item struct {
	Title         string `json:"title"`
	Author        string `json:"author,omitempty"`
	Publisher     string `json:"publisher,omitempty"`
	CoverImageRef string `json:"cover_image_ref,omitempty"`
}

// Policy holds the tunable knobs of the pipeline. Thresholds are policy
// parameters, not business constants: callers load them from config.
type Policy struct {
	TextWeight       float64
	ImageWeight      float64
	VerifyThreshold  float64 // minimum best fused score to run vision verification
	UseExistingFloor float64 // match confidence above which the item is an unambiguous duplicate
	ReviewFloor      float64 // match confidence above which a human should look
	KNNLimit         int     // neighbors fetched per index
	MaxVisionCalls   int64   // concurrent vision comparisons
}

// DefaultPolicy returns the standard weights and floors. The image space
// dominates fusion: visually near-identical covers matter more than similar
// metadata text.
func DefaultPolicy() Policy {
	return Policy{
		TextWeight:       0.3,
		ImageWeight:      0.7,
		VerifyThreshold:  0.6,
		UseExistingFloor: 0.85,
		ReviewFloor:      0.6,
		KNNLimit:         10,
		MaxVisionCalls:   3,
	}
}

// Candidate is one catalog book surfaced by the KNN stage. A missing modality
// leaves the corresponding distance nil and contributes 0 to the fused score.
type Candidate struct {
	BookID        string   `json:"book_id"`
	TextDistance  *float64 `json:"text_distance,omitempty"`
	ImageDistance *float64 `json:"image_distance,omitempty"`
	FusedScore    float64  `json:"fused_score"`
}

// Match is a candidate that passed vision verification.
type Match struct {
	BookID            string   `json:"book_id"`
	SimilarityScore   float64  `json:"similarity_score"`
	LayoutSimilarity  *float64 `json:"layout_similarity,omitempty"`
	ContentSimilarity *float64 `json:"content_similarity,omitempty"`
	Confidence        *float64 `json:"confidence,omitempty"`
}

// Analysis summarizes the outcome for the caller.
type Analysis struct {
	HasDuplicates  bool    `json:"has_duplicates"`
	Confidence     float64 `json:"confidence"`
	Recommendation string  `json:"recommendation"`
}

// Result is the full outcome of one duplicate check. It is a pure function of
// its inputs plus the external KNN and vision calls, never persisted.
type Result struct {
	Matches    []Match     `json:"matches"`
	Candidates []Candidate `json:"candidates"`
	Analysis   Analysis    `json:"analysis"`
}

// Searcher is the KNN lookup contract (satisfied by catalog.VectorIndex).
type Searcher interface {
	Search(ctx context.Context, space catalog.EmbeddingSpace, queryVec []float32, n int) ([]catalog.Neighbor, error)
}

// BookGetter resolves candidate cover references (satisfied by catalog.Store).
type BookGetter interface {
	GetByID(ctx context.Context, id string) (*catalog.Book, error)
}

// Detector runs the fusion + gated-verification pipeline.
type Detector struct {
	index  Searcher
	books  BookGetter
	llm    llm.LLMProvider
	vision vision.Provider
	policy Policy
	sem    *semaphore.Weighted
	log    *zap.Logger
}

// NewDetector creates a Detector with the given policy.
func NewDetector(index Searcher, books BookGetter, llmProvider llm.LLMProvider, visionProvider vision.Provider, policy Policy, log *zap.Logger) *Detector {
	if policy.KNNLimit <= 0 {
		policy.KNNLimit = DefaultPolicy().KNNLimit
	}
	if policy.MaxVisionCalls <= 0 {
		policy.MaxVisionCalls = DefaultPolicy().MaxVisionCalls
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{
		index:  index,
		books:  books,
		llm:    llmProvider,
		vision: visionProvider,
		policy: policy,
		sem:    semaphore.NewWeighted(policy.MaxVisionCalls),
		log:    log,
	}
}

// CheckDuplicates runs the full pipeline for one item. It never fails on a
// single-modality outage: a dead KNN index or vision endpoint degrades the
// result instead of aborting it.
func (d *Detector) CheckDuplicates(ctx context.Context, item Item) (*Result, error) {
	textNN, imageNN := d.knnBothSpaces(ctx, item)

	candidates := fuseCandidates(textNN, imageNN, d.policy)
	selected := selectCandidates(candidates, imageNN)

	result := &Result{
		Matches:    []Match{},
		Candidates: selected,
	}
	if len(selected) == 0 {
		result.Analysis = Analysis{Recommendation: RecommendCreateNew}
		return result, nil
	}

	bestFused := 0.0
	for _, c := range selected {
		if c.FusedScore > bestFused {
			bestFused = c.FusedScore
		}
	}

	// Gate: below the threshold the candidates are returned as a coarse
	// similarity set without any vision spend.
	if bestFused < d.policy.VerifyThreshold {
		result.Analysis = Analysis{Confidence: bestFused, Recommendation: RecommendCreateNew}
		return result, nil
	}

	result.Matches = d.verifyWithVision(ctx, item, selected)
	result.Analysis = d.analyze(result.Matches, bestFused)
	return result, nil
}

// knnBothSpaces embeds the item and queries both indexes concurrently.
// Each modality fails independently; a failed one returns no neighbors.
func (d *Detector) knnBothSpaces(ctx context.Context, item Item) (textNN, imageNN []catalog.Neighbor) {
	var g errgroup.Group

	g.Go(func() error {
		text := (&catalog.Book{Title: item.Title, Author: item.Author, Publisher: item.Publisher}).EmbedText()
		resp, err := d.llm.Embed(ctx, llm.EmbedRequest{Texts: []string{text}})
		if err != nil || len(resp.Embeddings) == 0 {
			d.log.Debug("text knn degraded", zap.Error(err))
			return nil
		}
		nn, err := d.index.Search(ctx, catalog.SpaceText, resp.Embeddings[0], d.policy.KNNLimit)
		if err != nil {
			d.log.Debug("text knn degraded", zap.Error(err))
			return nil
		}
		textNN = nn
		return nil
	})

	g.Go(func() error {
		if item.CoverImageRef == "" {
			return nil
		}
		vec, err := d.vision.EmbedImage(ctx, item.CoverImageRef)
		if err != nil {
			d.log.Debug("image knn degraded", zap.Error(err))
			return nil
		}
		nn, err := d.index.Search(ctx, catalog.SpaceImage, vec, d.policy.KNNLimit)
		if err != nil {
			d.log.Debug("image knn degraded", zap.Error(err))
			return nil
		}
		imageNN = nn
		return nil
	})

	g.Wait() //nolint:errcheck // goroutines never return errors
	return textNN, imageNN
}

// fuseCandidates merges both neighbor sets into per-book candidates with a
// partial weighted fused score: a candidate missing one modality contributes
// 0 for that term.
func fuseCandidates(textNN, imageNN []catalog.Neighbor, policy Policy) map[string]*Candidate {
	candidates := make(map[string]*Candidate)
	get := func(id string) *Candidate {
		if c, ok := candidates[id]; ok {
			return c
		}
		c := &Candidate{BookID: id}
		candidates[id] = c
		return c
	}

	for _, n := range textNN {
		dist := n.Distance
		get(n.BookID).TextDistance = &dist
	}
	for _, n := range imageNN {
		dist := n.Distance
		get(n.BookID).ImageDistance = &dist
	}

	for _, c := range candidates {
		var fused float64
		if c.TextDistance != nil {
			fused += policy.TextWeight * similarity(*c.TextDistance)
		}
		if c.ImageDistance != nil {
			fused += policy.ImageWeight * similarity(*c.ImageDistance)
		}
		c.FusedScore = fused
	}
	return candidates
}

// selectCandidates applies the fixed pick order: the single best
// image-similarity candidate first, then the top two remaining candidates by
// fused score. Duplicates of the first pick shorten the list rather than
// being replaced.
func selectCandidates(candidates map[string]*Candidate, imageNN []catalog.Neighbor) []Candidate {
	picked := make([]Candidate, 0, 3)
	seen := make(map[string]bool)

	// imageNN is already ordered by ascending distance, so its head is the
	// best image match.
	if len(imageNN) > 0 {
		if c, ok := candidates[imageNN[0].BookID]; ok {
			picked = append(picked, *c)
			seen[c.BookID] = true
		}
	}

	byFused := make([]*Candidate, 0, len(candidates))
	for _, c := range candidates {
		byFused = append(byFused, c)
	}
	sort.Slice(byFused, func(i, j int) bool {
		if byFused[i].FusedScore != byFused[j].FusedScore {
			return byFused[i].FusedScore > byFused[j].FusedScore
		}
		return byFused[i].BookID < byFused[j].BookID // deterministic tie-break
	})

	for _, c := range byFused {
		if len(picked) == 3 {
			break
		}
		if seen[c.BookID] {
			continue
		}
		picked = append(picked, *c)
		seen[c.BookID] = true
	}
	return picked
}

// verifyWithVision compares the item's cover against each selected candidate's
// stored cover, one comparison per candidate, bounded by the semaphore.
// A failed comparison omits that candidate; the others are unaffected.
// Output preserves the selection order.
func (d *Detector) verifyWithVision(ctx context.Context, item Item, selected []Candidate) []Match {
	if item.CoverImageRef == "" {
		return []Match{}
	}

	results := make([]*Match, len(selected))
	var wg sync.WaitGroup
	for i, c := range selected {
		wg.Add(1)
		go func(i int, c Candidate) {
			defer wg.Done()
			if err := d.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer d.sem.Release(1)
			results[i] = d.compareOne(ctx, item.CoverImageRef, c)
		}(i, c)
	}
	wg.Wait()

	matches := make([]Match, 0, len(selected))
	for _, m := range results {
		if m != nil {
			matches = append(matches, *m)
		}
	}
	return matches
}

// compareOne runs a single pairwise comparison. Returns nil when the candidate
// cannot be compared (missing cover, lookup failure, comparator failure).
func (d *Detector) compareOne(ctx context.Context, coverRef string, c Candidate) *Match {
	book, err := d.books.GetByID(ctx, c.BookID)
	if err != nil || book.CoverImageRef == "" {
		d.log.Debug("vision comparison skipped", zap.String("book_id", c.BookID), zap.Error(err))
		return nil
	}
	cmp, err := d.vision.Compare(ctx, coverRef, book.CoverImageRef)
	if err != nil {
		d.log.Debug("vision comparison failed", zap.String("book_id", c.BookID), zap.Error(err))
		return nil
	}
	return &Match{
		BookID:            c.BookID,
		SimilarityScore:   c.FusedScore,
		LayoutSimilarity:  &cmp.LayoutSimilarity,
		ContentSimilarity: &cmp.ContentSimilarity,
		Confidence:        &cmp.Confidence,
	}
}

// analyze derives the recommendation from the verified matches.
func (d *Detector) analyze(matches []Match, bestFused float64) Analysis {
	best := 0.0
	for _, m := range matches {
		if m.Confidence != nil && *m.Confidence > best {
			best = *m.Confidence
		}
	}
	if len(matches) == 0 {
		return Analysis{Confidence: bestFused, Recommendation: RecommendCreateNew}
	}

	a := Analysis{Confidence: best}
	switch {
	case best >= d.policy.UseExistingFloor:
		a.HasDuplicates = true
		a.Recommendation = RecommendUseExisting
	case best >= d.policy.ReviewFloor:
		a.HasDuplicates = true
		a.Recommendation = RecommendNeedsReview
	default:
		a.Recommendation = RecommendCreateNew
	}
	return a
}

// similarity converts a distance to a similarity score in [0,1].
func similarity(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	if distance > 1 {
		distance = 1
	}
	return 1 - distance
}
