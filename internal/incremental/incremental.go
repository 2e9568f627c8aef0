// Package incremental regenerates summaries for changed symbols and their
// dependents, reusing fresh summaries as cache hits so a small edit never
// re-summarizes the whole graph.
package incremental

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ariadne/internal/dualwrite"
	"ariadne/internal/embedding"
	"ariadne/internal/graph"
	"ariadne/internal/logging"
	"ariadne/internal/metrics"
	"ariadne/internal/summarize"
	"ariadne/internal/tracker"
)

// Result reports one incremental run.
type Result struct {
	Changed        []string        `json:"changed"`
	Dependents     []string        `json:"dependents"`
	Regenerated    int             `json:"regenerated"`
	SkippedCached  int             `json:"skipped_cached"`
	SkippedMissing int             `json:"skipped_missing"`
	Stats          summarize.Stats `json:"stats"`
	Duration       time.Duration   `json:"duration"`
}

// Coordinator wires the tracker, summarizer, embedding engine and dual-write
// path together. Engine may be nil, in which case summaries land on the
// relational plane only.
type Coordinator struct {
	mgr         *graph.Manager
	dual        *dualwrite.Coordinator
	tracker     *tracker.Tracker
	summarizer  *summarize.Summarizer
	engine      embedding.Engine
	projectRoot string
}

// New creates an incremental coordinator.
func New(mgr *graph.Manager, dual *dualwrite.Coordinator, tr *tracker.Tracker,
	sum *summarize.Summarizer, engine embedding.Engine, projectRoot string) *Coordinator {
	return &Coordinator{
		mgr:         mgr,
		dual:        dual,
		tracker:     tr,
		summarizer:  sum,
		engine:      engine,
		projectRoot: projectRoot,
	}
}

// Run walks dependents of the changed symbols, invalidates their summaries,
// and regenerates everything stale in the affected set.
func (c *Coordinator) Run(ctx context.Context, changed []string) (Result, error) {
	start := time.Now()
	timer := logging.StartTimer(logging.CategoryIncremental, "Run")
	defer timer.Stop()

	affected, err := c.tracker.GetAffectedSymbols(ctx, changed)
	if err != nil {
		return Result{}, err
	}
	result, err := c.Regenerate(ctx, affected.TotalSet)
	if err != nil {
		return result, err
	}
	result.Changed = affected.Changed
	result.Dependents = affected.Dependents
	result.Duration = time.Since(start)

	logging.Get(logging.CategoryIncremental).Infow("incremental run complete",
		"changed", len(result.Changed),
		"dependents", len(result.Dependents),
		"regenerated", result.Regenerated,
		"skipped_cached", result.SkippedCached,
		"skipped_missing", result.SkippedMissing,
		"duration", result.Duration)
	return result, nil
}

// Regenerate summarizes every symbol in the set whose summary is stale or
// absent. Symbols with a fresh summary are cache hits and are skipped;
// symbols missing from the graph are skipped with a debug log.
func (c *Coordinator) Regenerate(ctx context.Context, fqns []string) (Result, error) {
	var result Result
	if len(fqns) == 0 {
		return result, nil
	}

	st, release := c.mgr.Acquire()
	syms, err := st.GetSymbols(ctx, fqns)
	if err != nil {
		release()
		return result, err
	}
	staleness, err := st.SummaryStaleness(ctx, fqns)
	release()
	if err != nil {
		return result, err
	}

	log := logging.Get(logging.CategoryIncremental)
	var items []summarize.Item
	for _, fqn := range fqns {
		sym, ok := syms[fqn]
		if !ok {
			result.SkippedMissing++
			log.Debugw("symbol missing from graph, skipping", "fqn", fqn)
			continue
		}
		if isStale, known := staleness[fqn]; known && !isStale {
			result.SkippedCached++
			continue
		}
		items = append(items, summarize.Item{
			FQN:     fqn,
			Kind:    sym.Kind,
			Name:    sym.Name,
			Code:    c.readSource(sym),
			Context: symbolContext(sym),
		})
	}
	if len(items) == 0 {
		return result, nil
	}

	texts, stats := c.summarizer.SummarizeBatch(ctx, items)
	result.Stats = stats

	// Deterministic persist order keeps reruns comparable in logs.
	ordered := make([]string, 0, len(texts))
	for fqn := range texts {
		ordered = append(ordered, fqn)
	}
	sort.Strings(ordered)

	embeddings := c.embedAll(ctx, ordered, texts)

	// A concurrent run may have finished some of these rows while the batch
	// was in the LLM phase. Rows that are fresh again by now keep the summary
	// they already have; upserting here would overwrite the newer text.
	st, release = c.mgr.Acquire()
	current, err := st.SummaryStaleness(ctx, ordered)
	release()
	if err != nil {
		return result, err
	}

	for _, fqn := range ordered {
		if isStale, known := current[fqn]; known && !isStale {
			result.SkippedCached++
			continue
		}
		sym := syms[fqn]
		sum := graph.Summary{
			TargetFQN:   fqn,
			Level:       levelFor(sym.Kind),
			SummaryText: texts[fqn],
		}
		if err := c.dual.CreateSummaryWithVector(ctx, sum, embeddings[fqn]); err != nil {
			log.Errorw("summary persist failed", "fqn", fqn, "error", err)
			continue
		}
		result.Regenerated++
	}
	metrics.SummariesRegenerated.Add(float64(result.Regenerated))
	return result, nil
}

// embedAll embeds the summary texts in one batch. Embedding failures degrade
// to relational-only summaries rather than failing the run.
func (c *Coordinator) embedAll(ctx context.Context, ordered []string, texts map[string]string) map[string][]float32 {
	out := map[string][]float32{}
	if c.engine == nil || len(ordered) == 0 {
		return out
	}
	inputs := make([]string, len(ordered))
	for i, fqn := range ordered {
		inputs[i] = texts[fqn]
	}
	vecs, err := c.engine.EmbedBatch(ctx, inputs)
	if err != nil {
		logging.Get(logging.CategoryIncremental).Warnw("embedding failed, storing text only",
			"engine", c.engine.Name(), "count", len(inputs), "error", err)
		return out
	}
	for i, fqn := range ordered {
		out[fqn] = vecs[i]
	}
	return out
}

// readSource returns the symbol's source file contents, or the signature
// when the file is unavailable.
func (c *Coordinator) readSource(sym graph.Symbol) string {
	if c.projectRoot == "" || sym.FilePath == "" {
		return sym.Signature
	}
	data, err := os.ReadFile(filepath.Join(c.projectRoot, sym.FilePath))
	if err != nil {
		logging.Get(logging.CategoryIncremental).Debugw("source unavailable, using signature",
			"fqn", sym.FQN, "path", sym.FilePath)
		return sym.Signature
	}
	return string(data)
}

func symbolContext(sym graph.Symbol) string {
	var b strings.Builder
	b.WriteString("kind: " + sym.Kind)
	if sym.Signature != "" {
		b.WriteString("\nsignature: " + sym.Signature)
	}
	if sym.ParentFQN != "" {
		b.WriteString("\ndeclared in: " + sym.ParentFQN)
	}
	if layer := graph.DeriveLayer(sym); layer != graph.LayerUnknown {
		b.WriteString("\nlayer: " + layer)
	}
	return b.String()
}

func levelFor(kind string) string {
	switch kind {
	case graph.KindClass, graph.KindInterface:
		return graph.LevelClass
	default:
		return graph.LevelMethod
	}
}
