// Package summarize fans symbol summarization out over a bounded worker
// pool. A failing item never poisons the batch: it falls back to a
// deterministic description derived from the symbol name, so every requested
// symbol ends up with some summary text.
package summarize

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ariadne/internal/graph"
	"ariadne/internal/logging"
)

// ChatModel is the slice of the LLM client the summarizer needs.
type ChatModel interface {
	Summarize(ctx context.Context, code, symContext string) (string, error)
	Timeout() time.Duration
}

// Item is one symbol to summarize.
type Item struct {
	FQN     string
	Kind    string // class, interface, method, field
	Name    string
	Code    string
	Context string // graph context passed to the model verbatim
}

// Stats counts batch outcomes. Total = Success + Failed + Skipped.
type Stats struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Summarizer runs batches against a chat model.
type Summarizer struct {
	model      ChatModel
	maxWorkers int

	mu    sync.Mutex
	stats Stats
}

// New creates a summarizer with the given worker bound.
func New(model ChatModel, maxWorkers int) *Summarizer {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	return &Summarizer{model: model, maxWorkers: maxWorkers}
}

// Stats returns a copy of the cumulative counters.
func (s *Summarizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// SummarizeBatch summarizes every item and returns FQN → summary text. Items
// without code are skipped with a fallback; model failures and per-item
// timeouts also fall back, counted as failed. The result always has exactly
// one entry per distinct input FQN.
func (s *Summarizer) SummarizeBatch(ctx context.Context, items []Item) (map[string]string, Stats) {
	timer := logging.StartTimer(logging.CategorySummarizer, "SummarizeBatch")
	defer timer.Stop()

	var (
		mu    sync.Mutex
		out   = make(map[string]string, len(items))
		batch Stats
	)
	record := func(fqn, text string, outcome *int) {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := out[fqn]; ok {
			return
		}
		out[fqn] = text
		batch.Total++
		*outcome++
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxWorkers)
	for _, item := range items {
		item := item
		g.Go(func() error {
			if strings.TrimSpace(item.Code) == "" {
				record(item.FQN, Fallback(item), &batch.Skipped)
				return nil
			}
			itemCtx, cancel := context.WithTimeout(gctx, s.model.Timeout())
			defer cancel()

			text, err := s.model.Summarize(itemCtx, item.Code, item.Context)
			if err != nil || strings.TrimSpace(text) == "" {
				if err != nil {
					logging.Get(logging.CategorySummarizer).Warnw("summarization fell back",
						"fqn", item.FQN, "error", err)
				}
				record(item.FQN, Fallback(item), &batch.Failed)
				return nil
			}
			record(item.FQN, text, &batch.Success)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; fallbacks absorb them

	s.mu.Lock()
	s.stats.Total += batch.Total
	s.stats.Success += batch.Success
	s.stats.Failed += batch.Failed
	s.stats.Skipped += batch.Skipped
	s.mu.Unlock()

	logging.Get(logging.CategorySummarizer).Infow("batch summarized",
		"total", batch.Total, "success", batch.Success, "failed", batch.Failed, "skipped", batch.Skipped)
	return out, batch
}

// Fallback derives a deterministic summary from the symbol shape alone.
func Fallback(item Item) string {
	name := item.Name
	if name == "" {
		if i := strings.LastIndex(item.FQN, "."); i >= 0 {
			name = item.FQN[i+1:]
		} else {
			name = item.FQN
		}
	}
	switch item.Kind {
	case graph.KindClass:
		return "Class: " + name
	case graph.KindInterface:
		return "Interface: " + name
	case graph.KindField:
		return "Field: " + name
	}
	switch {
	case strings.HasPrefix(name, "get") && len(name) > 3:
		return "Returns the " + lowerFirst(name[3:]) + " value."
	case strings.HasPrefix(name, "set") && len(name) > 3:
		return "Sets the " + lowerFirst(name[3:]) + " value."
	case strings.HasPrefix(name, "is") && len(name) > 2:
		return "Checks whether " + lowerFirst(name[2:]) + " holds."
	case strings.HasPrefix(name, "has") && len(name) > 3:
		return "Checks whether " + lowerFirst(name[3:]) + " is present."
	default:
		return "Method: " + name
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
