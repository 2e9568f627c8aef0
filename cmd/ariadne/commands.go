package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ariadne/internal/config"
	"ariadne/internal/dualwrite"
	"ariadne/internal/embedding"
	"ariadne/internal/graph"
	"ariadne/internal/impact"
	"ariadne/internal/incremental"
	"ariadne/internal/ingestor"
	"ariadne/internal/jobs"
	"ariadne/internal/llm"
	"ariadne/internal/logging"
	"ariadne/internal/rebuild"
	"ariadne/internal/rules"
	"ariadne/internal/server"
	"ariadne/internal/summarize"
	"ariadne/internal/testmap"
	"ariadne/internal/trace"
	"ariadne/internal/tracker"
	"ariadne/internal/vector"
	"ariadne/internal/watch"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "ariadne",
		Short:         "Incremental code knowledge graph for JVM projects",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newRebuildCmd(&configPath),
		newJobsCmd(&configPath),
		newImpactCmd(&configPath),
		newTraceCmd(&configPath),
		newDetectCmd(&configPath),
		newSearchCmd(&configPath),
	)
	return root
}

// app bundles every component over one open database.
type app struct {
	cfg     config.Config
	mgr     *graph.Manager
	vectors *vector.Store
	dual    *dualwrite.Coordinator
	queue   *jobs.Queue
	incr    *incremental.Coordinator
	reb     *rebuild.Rebuilder
	impact  *impact.Analyzer
	tracer  *trace.Tracer
	rules   *rules.Engine
	engine  embedding.Engine
}

func openApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, err
	}

	// A crash between swap renames leaves no live database; promote the
	// newest backup before opening.
	if restored, err := rebuild.RecoverIncompleteSwap(cfg.DBPath); err != nil {
		return nil, err
	} else if restored != "" {
		logging.Get(logging.CategoryRebuild).Warnw("recovered database from backup", "backup", restored)
	}

	mgr, err := graph.NewManager(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	vectors, err := vector.Open(cfg.VectorPath)
	if err != nil {
		mgr.Close()
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		mgr:     mgr,
		vectors: vectors,
		dual:    dualwrite.New(mgr, vectors),
		queue:   jobs.NewQueue(mgr),
		rules:   rules.NewEngine(mgr),
		tracer:  trace.New(mgr),
	}
	a.impact = impact.New(mgr, testmap.New(cfg.ProjectRoot))

	if engine, err := embedding.NewEngine(cfg.LLM); err == nil {
		a.engine = engine
	} else {
		logging.Get(logging.CategoryEmbedding).Warnw("embedding disabled", "error", err)
	}
	model, err := llm.NewClient(cfg.LLM)
	if err != nil {
		a.close()
		return nil, err
	}
	summarizer := summarize.New(model, cfg.Summarize.MaxWorkers)
	a.incr = incremental.New(mgr, a.dual, tracker.New(mgr), summarizer, a.engine, cfg.ProjectRoot)

	extractor := ingestor.NewExtractor(ingestor.NewClient(cfg.ASMServiceURL), cfg.ProjectRoot)
	a.reb = rebuild.New(mgr, extractor, cfg.Rebuild.KeepBackups)
	return a, nil
}

func (a *app) close() {
	if a.vectors != nil {
		a.vectors.Close()
	}
	if a.mgr != nil {
		a.mgr.Close()
	}
	logging.Sync()
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go a.dual.RunReconciler(ctx, a.cfg.Rebuild.ReconcileInterval)
			if a.cfg.ProjectRoot != "" {
				w := watch.New(a.cfg.ProjectRoot, a.dual, 0)
				go func() {
					if err := w.Run(ctx); err != nil {
						logging.Get(logging.CategoryWatch).Errorw("watcher stopped", "error", err)
					}
				}()
			}

			srv := server.New(a.cfg.Server, server.Deps{
				Manager:     a.mgr,
				Queue:       a.queue,
				Rebuilder:   a.reb,
				Incremental: a.incr,
				DualWrite:   a.dual,
				Impact:      a.impact,
				Tracer:      a.tracer,
				Rules:       a.rules,
				Vectors:     a.vectors,
				Embedding:   a.engine,
			})
			return srv.ListenAndServe(ctx)
		},
	}
}

func newRebuildCmd(configPath *string) *cobra.Command {
	var paths []string
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Run a full shadow rebuild against the analyzer",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.reb.Rebuild(cmd.Context(), paths)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().StringSliceVar(&paths, "paths", nil, "restrict analysis to these class files")
	return cmd
}

func newJobsCmd(configPath *string) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List rebuild jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			list, err := a.queue.List(cmd.Context(), status, 50)
			if err != nil {
				return err
			}
			return printJSON(cmd, list)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, running, complete, failed)")
	return cmd
}

func newImpactCmd(configPath *string) *cobra.Command {
	var (
		depth             int
		includeTests      bool
		includeTransitive bool
	)
	cmd := &cobra.Command{
		Use:   "impact <fqn>",
		Short: "Analyze the blast radius of changing a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			analysis, err := a.impact.Analyze(cmd.Context(), args[0], depth, includeTests, includeTransitive)
			if err != nil {
				return err
			}
			return printJSON(cmd, analysis)
		},
	}
	cmd.Flags().IntVar(&depth, "depth", 5, "reverse traversal depth")
	cmd.Flags().BoolVar(&includeTests, "include-tests", false, "include test classes among callers")
	cmd.Flags().BoolVar(&includeTransitive, "transitive", true, "include transitive callers")
	return cmd
}

func newTraceCmd(configPath *string) *cobra.Command {
	var (
		httpMethod string
		httpPath   string
		maxDepth   int
	)
	cmd := &cobra.Command{
		Use:   "trace [fqn]",
		Short: "Trace a call chain from an entry point",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			req := trace.Request{HTTPMethod: httpMethod, HTTPPath: httpPath, MaxDepth: maxDepth}
			if len(args) == 1 {
				req.FQN = args[0]
			}
			chain, err := a.tracer.Trace(cmd.Context(), req)
			if err != nil {
				return err
			}
			cmd.Print(trace.DescribeChain(chain))
			return nil
		},
	}
	cmd.Flags().StringVar(&httpMethod, "method", "", "HTTP method of the entry point")
	cmd.Flags().StringVar(&httpPath, "path", "", "HTTP path of the entry point")
	cmd.Flags().IntVar(&maxDepth, "depth", 0, "maximum chain depth")
	return cmd
}

func newDetectCmd(configPath *string) *cobra.Command {
	var ruleID string
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run architecture rules over the graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			var (
				found interface{}
				derr  error
			)
			if ruleID != "" {
				found, derr = a.rules.DetectByRule(cmd.Context(), ruleID)
			} else {
				found, derr = a.rules.DetectAll(cmd.Context())
			}
			if derr != nil {
				return derr
			}
			return printJSON(cmd, found)
		},
	}
	cmd.Flags().StringVar(&ruleID, "rule", "", "run a single rule by id")
	return cmd
}

func newSearchCmd(configPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search summaries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if a.engine != nil {
				vec, err := a.engine.Embed(cmd.Context(), args[0])
				if err == nil {
					results, serr := a.vectors.Search(cmd.Context(), vector.CollectionSummaries, vec, limit, nil)
					if serr == nil {
						return printJSON(cmd, results)
					}
				}
			}
			st, release := a.mgr.Acquire()
			defer release()
			sums, err := st.SearchSummaries(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, sums)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	cmd.Println(string(out))
	return nil
}
