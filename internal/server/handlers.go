package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ariadne/internal/apperr"
	"ariadne/internal/graph"
	"ariadne/internal/jobs"
	"ariadne/internal/logging"
	"ariadne/internal/trace"
	"ariadne/internal/vector"
)

type rebuildRequest struct {
	Mode        string   `json:"mode"` // full or incremental
	TargetPaths []string `json:"target_paths,omitempty"`
	Async       bool     `json:"async"`
}

// handleRebuild creates a job and either runs it inline or hands it to a
// background goroutine. Either way job state lives in the database; the
// async response is 202 with the job for polling.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteProblem(w, r, apperr.Wrap(apperr.KindInvalidArgument, err, "decode rebuild request"))
		return
	}
	if req.Mode == "" {
		req.Mode = jobs.ModeFull
	}

	job, err := s.queue.Create(r.Context(), req.Mode, req.TargetPaths)
	if err != nil {
		apperr.WriteProblem(w, r, err)
		return
	}

	if req.Async {
		go s.runJob(context.Background(), job.JobID)
		writeJSON(w, http.StatusAccepted, job)
		return
	}

	s.runJob(r.Context(), job.JobID)
	finished, err := s.queue.Get(r.Context(), job.JobID)
	if err != nil {
		apperr.WriteProblem(w, r, err)
		return
	}
	status := http.StatusOK
	if finished.Status == jobs.StatusFailed {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, finished)
}

// runJob acquires and executes one job. Acquisition losing to a concurrent
// job leaves this one pending for a later run.
func (s *Server) runJob(ctx context.Context, jobID string) {
	log := logging.Get(logging.CategoryServer)
	job, err := s.queue.Acquire(ctx, jobID)
	if err != nil {
		log.Warnw("job not acquired", "job_id", jobID, "error", err)
		return
	}

	var runErr error
	switch job.Mode {
	case jobs.ModeFull:
		_, runErr = s.rebuilder.Rebuild(ctx, job.TargetPaths)
	case jobs.ModeIncremental:
		runErr = s.runIncremental(ctx, job.TargetPaths)
	}
	if runErr != nil {
		if err := s.queue.Fail(ctx, jobID, runErr); err != nil {
			log.Errorw("job fail-mark failed", "job_id", jobID, "error", err)
		}
		return
	}
	if err := s.queue.Complete(ctx, jobID); err != nil {
		log.Errorw("job complete-mark failed", "job_id", jobID, "error", err)
	}
}

// runIncremental invalidates and regenerates summaries for the symbols in
// the changed files.
func (s *Server) runIncremental(ctx context.Context, paths []string) error {
	var changed []string
	st, release := s.mgr.Acquire()
	for _, path := range paths {
		syms, err := st.SymbolsByFile(ctx, path)
		if err != nil {
			release()
			return err
		}
		for _, sym := range syms {
			changed = append(changed, sym.FQN)
		}
	}
	release()
	if len(changed) == 0 {
		return apperr.New(apperr.KindInvalidArgument, "no symbols found for the given paths")
	}
	_, err := s.incr.Run(ctx, changed)
	return err
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.queue.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		apperr.WriteProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.queue.List(r.Context(), r.URL.Query().Get("status"), queryInt(r, "limit", 50))
	if err != nil {
		apperr.WriteProblem(w, r, err)
		return
	}
	if list == nil {
		list = []jobs.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": list})
}

func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		apperr.WriteProblem(w, r, apperr.New(apperr.KindInvalidArgument, "target query parameter is required"))
		return
	}
	analysis, err := s.analyzer.Analyze(r.Context(), target,
		queryInt(r, "depth", 5),
		queryBool(r, "include_tests", false),
		queryBool(r, "include_transitive", true))
	if err != nil {
		apperr.WriteProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

type graphQueryRequest struct {
	Start      string            `json:"start"`
	Relation   string            `json:"relation,omitempty"`
	Direction  string            `json:"direction,omitempty"`
	Depth      int               `json:"depth,omitempty"`
	MaxResults int               `json:"max_results,omitempty"`
	Filters    map[string]string `json:"filters,omitempty"`
}

type graphQueryResponse struct {
	Nodes    []graph.Symbol     `json:"nodes"`
	Edges    []graphQueryEdge   `json:"edges"`
	Metadata graphQueryMetadata `json:"metadata"`
}

type graphQueryEdge struct {
	FromFQN   string `json:"from_fqn"`
	ToFQN     string `json:"to_fqn"`
	Relation  string `json:"relation"`
	Direction string `json:"direction"`
}

type graphQueryMetadata struct {
	MaxDepth    int   `json:"max_depth"`
	TotalNodes  int   `json:"total_nodes"`
	TotalEdges  int   `json:"total_edges"`
	Truncated   bool  `json:"truncated"`
	QueryTimeMS int64 `json:"query_time_ms"`
}

const (
	graphQueryMaxNodes = 200
	graphQueryMaxDepth = 5
)

// handleGraphQuery expands a symbol's neighbourhood breadth-first up to the
// requested depth, bounded by max_results nodes, and returns a nodes/edges
// envelope with traversal metadata.
func (s *Server) handleGraphQuery(w http.ResponseWriter, r *http.Request) {
	var req graphQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteProblem(w, r, apperr.Wrap(apperr.KindInvalidArgument, err, "decode graph query"))
		return
	}
	if req.Start == "" {
		apperr.WriteProblem(w, r, apperr.New(apperr.KindInvalidArgument, "start is required"))
		return
	}
	for key := range req.Filters {
		if key != "kind" && key != "layer" {
			apperr.WriteProblem(w, r, apperr.New(apperr.KindInvalidArgument, "unknown filter %q", key))
			return
		}
	}
	if req.Direction == "" {
		req.Direction = "both"
	}
	depth := req.Depth
	if depth <= 0 {
		depth = 1
	}
	if depth > graphQueryMaxDepth {
		depth = graphQueryMaxDepth
	}
	limit := req.MaxResults
	if limit <= 0 || limit > graphQueryMaxNodes {
		limit = graphQueryMaxNodes
	}
	began := time.Now()

	st, release := s.mgr.Acquire()
	defer release()

	center, err := st.GetSymbol(r.Context(), req.Start)
	if err != nil {
		apperr.WriteProblem(w, r, err)
		return
	}

	resp := graphQueryResponse{Nodes: []graph.Symbol{center}, Edges: []graphQueryEdge{}}
	seen := map[string]bool{req.Start: true}
	seenEdges := map[string]bool{}
	frontier := []string{req.Start}
	truncated := false

bfs:
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, fqn := range frontier {
			related, err := st.RelatedSymbols(r.Context(), fqn, req.Relation, req.Direction)
			if err != nil {
				apperr.WriteProblem(w, r, err)
				return
			}
			for _, rel := range related {
				if !matchesFilters(rel.Symbol, req.Filters) {
					continue
				}
				if !seen[rel.Symbol.FQN] {
					if len(resp.Nodes) >= limit {
						truncated = true
						break bfs
					}
					seen[rel.Symbol.FQN] = true
					resp.Nodes = append(resp.Nodes, rel.Symbol)
					next = append(next, rel.Symbol.FQN)
				}
				from, to := fqn, rel.Symbol.FQN
				if rel.Direction == "incoming" {
					from, to = to, from
				}
				if key := from + "|" + rel.Relation + "|" + to; !seenEdges[key] {
					seenEdges[key] = true
					resp.Edges = append(resp.Edges, graphQueryEdge{
						FromFQN: from, ToFQN: to, Relation: rel.Relation, Direction: rel.Direction,
					})
				}
			}
		}
		frontier = next
	}

	resp.Metadata = graphQueryMetadata{
		MaxDepth:    depth,
		TotalNodes:  len(resp.Nodes),
		TotalEdges:  len(resp.Edges),
		Truncated:   truncated,
		QueryTimeMS: time.Since(began).Milliseconds(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func matchesFilters(sym graph.Symbol, filters map[string]string) bool {
	for key, want := range filters {
		switch key {
		case "kind":
			if sym.Kind != want {
				return false
			}
		case "layer":
			if graph.DeriveLayer(sym) != want {
				return false
			}
		}
	}
	return true
}

type searchHit struct {
	TargetFQN   string  `json:"target_fqn"`
	SummaryText string  `json:"summary_text"`
	Score       float64 `json:"score"`
	Source      string  `json:"source"` // vector or text
}

// handleSearch answers semantic queries over summaries. With an embedding
// engine configured the query is embedded and ranked by cosine distance;
// otherwise it degrades to a LIKE scan over fresh summary text.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		apperr.WriteProblem(w, r, apperr.New(apperr.KindInvalidArgument, "q query parameter is required"))
		return
	}
	limit := queryInt(r, "limit", 10)

	if s.engine != nil {
		hits, err := s.vectorSearch(r.Context(), q, limit)
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{"results": hits})
			return
		}
		logging.Get(logging.CategoryServer).Warnw("vector search failed, falling back to text", "error", err)
	}

	st, release := s.mgr.Acquire()
	defer release()
	sums, err := st.SearchSummaries(r.Context(), q, limit)
	if err != nil {
		apperr.WriteProblem(w, r, err)
		return
	}
	hits := make([]searchHit, 0, len(sums))
	for _, sum := range sums {
		hits = append(hits, searchHit{TargetFQN: sum.TargetFQN, SummaryText: sum.SummaryText, Source: "text"})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": hits})
}

func (s *Server) vectorSearch(ctx context.Context, q string, limit int) ([]searchHit, error) {
	vec, err := s.engine.Embed(ctx, q)
	if err != nil {
		return nil, err
	}
	results, err := s.vectors.Search(ctx, vector.CollectionSummaries, vec, limit, nil)
	if err != nil {
		return nil, err
	}
	hits := make([]searchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, searchHit{
			TargetFQN:   res.ID,
			SummaryText: res.Content,
			Score:       1 - res.Distance,
			Source:      "vector",
		})
	}
	return hits, nil
}

func (s *Server) handleGlossary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		apperr.WriteProblem(w, r, apperr.New(apperr.KindInvalidArgument, "q query parameter is required"))
		return
	}
	st, release := s.mgr.Acquire()
	defer release()
	entries, err := st.SearchGlossary(r.Context(), q, queryInt(r, "limit", 10))
	if err != nil {
		apperr.WriteProblem(w, r, err)
		return
	}
	if entries == nil {
		entries = []graph.GlossaryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleConstraints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		apperr.WriteProblem(w, r, apperr.New(apperr.KindInvalidArgument, "q query parameter is required"))
		return
	}
	st, release := s.mgr.Acquire()
	defer release()
	constraints, err := st.SearchConstraints(r.Context(), q, queryInt(r, "limit", 10))
	if err != nil {
		apperr.WriteProblem(w, r, err)
		return
	}
	if constraints == nil {
		constraints = []graph.Constraint{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"constraints": constraints})
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	var req trace.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteProblem(w, r, apperr.Wrap(apperr.KindInvalidArgument, err, "decode trace request"))
		return
	}
	chain, err := s.tracer.Trace(r.Context(), req)
	if err != nil {
		apperr.WriteProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chain)
}

func (s *Server) handleAntiPatterns(w http.ResponseWriter, r *http.Request) {
	found, err := s.rules.Findings(r.Context(), r.URL.Query().Get("rule"), r.URL.Query().Get("severity"))
	if err != nil {
		apperr.WriteProblem(w, r, err)
		return
	}
	if found == nil {
		found = []graph.AntiPattern{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":    s.rules.ListRules(),
		"findings": found,
	})
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	ruleID := r.URL.Query().Get("rule")
	var (
		found []graph.AntiPattern
		err   error
	)
	if ruleID != "" {
		found, err = s.rules.DetectByRule(r.Context(), ruleID)
	} else {
		found, err = s.rules.DetectAll(r.Context())
	}
	if err != nil {
		apperr.WriteProblem(w, r, err)
		return
	}
	if found == nil {
		found = []graph.AntiPattern{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"findings": found})
}
