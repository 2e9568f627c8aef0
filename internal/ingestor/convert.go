package ingestor

import (
	"context"
	"strings"

	"ariadne/internal/graph"
	"ariadne/internal/logging"
)

// frameworkPrefixes name callee packages that carry no project knowledge.
// Calls into them are dropped instead of becoming external-FQN edges.
var frameworkPrefixes = []string{
	"java.",
	"javax.",
	"jdk.",
	"sun.",
	"com.sun.",
	"kotlin.",
	"org.springframework.",
	"org.slf4j.",
	"lombok.",
}

func isFrameworkFQN(fqn string) bool {
	for _, prefix := range frameworkPrefixes {
		if strings.HasPrefix(fqn, prefix) {
			return true
		}
	}
	return false
}

// GraphRows is the converted form of one analyzer report, ready for batch
// insertion.
type GraphRows struct {
	Symbols      []graph.Symbol
	Edges        []graph.Edge
	EntryPoints  []graph.EntryPoint
	Dependencies []graph.ExternalDependency
}

// Convert flattens an analyzer report into graph rows. Method symbols hang
// off their class through parent_fqn and a member_of edge; inheritance and
// interface implementation become edges even when the supertype is outside
// the project.
func Convert(result *AnalyzeResult) GraphRows {
	var rows GraphRows
	for _, cls := range result.Classes {
		kind := graph.KindClass
		if cls.Kind == "interface" {
			kind = graph.KindInterface
		}
		rows.Symbols = append(rows.Symbols, graph.Symbol{
			FQN:         cls.Name,
			Kind:        kind,
			Name:        simpleName(cls.Name),
			FilePath:    cls.SourceFile,
			Annotations: cls.Annotations,
		})
		if cls.Superclass != "" && cls.Superclass != "java.lang.Object" {
			rows.Edges = append(rows.Edges, graph.Edge{
				FromFQN: cls.Name, ToFQN: cls.Superclass, Relation: graph.RelationInherits,
			})
		}
		for _, iface := range cls.Interfaces {
			rows.Edges = append(rows.Edges, graph.Edge{
				FromFQN: cls.Name, ToFQN: iface, Relation: graph.RelationImplements,
			})
		}

		for _, m := range cls.Methods {
			methodFQN := cls.Name + "." + m.Name
			rows.Symbols = append(rows.Symbols, graph.Symbol{
				FQN:         methodFQN,
				Kind:        graph.KindMethod,
				Name:        m.Name,
				FilePath:    cls.SourceFile,
				LineNumber:  m.LineNumber,
				Signature:   m.Signature,
				ParentFQN:   cls.Name,
				Annotations: m.Annotations,
			})
			rows.Edges = append(rows.Edges, graph.Edge{
				FromFQN: methodFQN, ToFQN: cls.Name, Relation: graph.RelationMemberOf,
			})

			if ep, ok := entryPointOf(methodFQN, m); ok {
				rows.EntryPoints = append(rows.EntryPoints, ep)
			}

			for _, call := range m.Calls {
				callee := call.Owner + "." + call.Name
				if call.DependencyType != "" {
					rows.Dependencies = append(rows.Dependencies, graph.ExternalDependency{
						CallerFQN: methodFQN,
						Type:      call.DependencyType,
						Target:    dependencyTarget(call),
						Strength:  "strong",
					})
				}
				if isFrameworkFQN(call.Owner) {
					continue
				}
				edge := graph.Edge{FromFQN: methodFQN, ToFQN: callee, Relation: graph.RelationCalls}
				if call.IsMybatisBaseMapperCall {
					edge.Metadata = map[string]string{"mybatis_base_mapper": "true"}
				}
				rows.Edges = append(rows.Edges, edge)
			}
		}
	}
	return rows
}

func entryPointOf(methodFQN string, m MethodInfo) (graph.EntryPoint, bool) {
	switch {
	case m.IsRestEndpoint:
		return graph.EntryPoint{
			SymbolFQN:  methodFQN,
			Type:       graph.EntryHTTPAPI,
			HTTPMethod: strings.ToUpper(m.HTTPMethod),
			HTTPPath:   m.APIPath,
		}, true
	case m.IsScheduled:
		return graph.EntryPoint{
			SymbolFQN: methodFQN,
			Type:      graph.EntryScheduled,
			Cron:      m.ScheduledCron,
		}, true
	case m.EntryPointType == graph.EntryMQConsumer:
		return graph.EntryPoint{
			SymbolFQN: methodFQN,
			Type:      graph.EntryMQConsumer,
		}, true
	}
	return graph.EntryPoint{}, false
}

func dependencyTarget(call CallInfo) string {
	if call.DependencyTarget != "" {
		return call.DependencyTarget
	}
	return call.Owner
}

func simpleName(fqn string) string {
	if i := strings.LastIndex(fqn, "."); i >= 0 {
		return fqn[i+1:]
	}
	return fqn
}

// Extractor implements the rebuild contract on top of the analyzer client:
// analyze the project, convert, and bulk-insert into the target store.
type Extractor struct {
	client      *Client
	projectRoot string
}

// NewExtractor creates a rebuild extractor.
func NewExtractor(client *Client, projectRoot string) *Extractor {
	return &Extractor{client: client, projectRoot: projectRoot}
}

// Extract populates st with the analyzer's view of the project.
func (e *Extractor) Extract(ctx context.Context, st *graph.Store, targetPaths []string) error {
	result, err := e.client.Analyze(ctx, AnalyzeRequest{
		ProjectRoot: e.projectRoot,
		ClassFiles:  targetPaths,
	})
	if err != nil {
		return err
	}
	rows := Convert(result)

	if err := st.InsertSymbols(ctx, rows.Symbols); err != nil {
		return err
	}
	if err := st.InsertEdges(ctx, rows.Edges); err != nil {
		return err
	}
	if err := st.UpsertEntryPoints(ctx, rows.EntryPoints); err != nil {
		return err
	}
	if err := st.UpsertExternalDependencies(ctx, rows.Dependencies); err != nil {
		return err
	}
	logging.Get(logging.CategoryIngestor).Infow("extraction complete",
		"classes", len(result.Classes),
		"symbols", len(rows.Symbols),
		"edges", len(rows.Edges),
		"entry_points", len(rows.EntryPoints),
		"dependencies", len(rows.Dependencies))
	return nil
}
