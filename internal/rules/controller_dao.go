package rules

import (
	"context"
	"strings"

	"ariadne/internal/graph"
)

// controllerDAORule flags controller methods that reach straight into the
// data layer, skipping the service layer.
type controllerDAORule struct{}

func (controllerDAORule) ID() string       { return "controller-dao" }
func (controllerDAORule) Severity() string { return SeverityError }
func (controllerDAORule) Description() string {
	return "controller calls a DAO/Mapper/Repository directly, bypassing the service layer"
}

func (r controllerDAORule) Detect(ctx context.Context, st *graph.Store) ([]graph.AntiPattern, error) {
	classes, err := st.SymbolsByKind(ctx, graph.KindClass)
	if err != nil {
		return nil, err
	}

	var controllers []graph.Symbol
	classByFQN := map[string]graph.Symbol{}
	for _, cls := range classes {
		classByFQN[cls.FQN] = cls
		if graph.DeriveLayer(cls) == graph.LayerController {
			controllers = append(controllers, cls)
		}
	}
	if len(controllers) == 0 {
		return nil, nil
	}

	var methodFQNs []string
	methodOwner := map[string]string{}
	for _, ctl := range controllers {
		methods, err := st.ChildrenOf(ctx, ctl.FQN)
		if err != nil {
			return nil, err
		}
		for _, m := range methods {
			if m.Kind != graph.KindMethod {
				continue
			}
			methodFQNs = append(methodFQNs, m.FQN)
			methodOwner[m.FQN] = ctl.FQN
		}
	}

	edges, err := st.OutgoingCalls(ctx, methodFQNs)
	if err != nil {
		return nil, err
	}

	var found []graph.AntiPattern
	seen := map[string]struct{}{}
	for _, e := range edges {
		targetClass := enclosingClassFQN(e.ToFQN)
		if !isDataLayerClass(targetClass, classByFQN) {
			continue
		}
		key := e.FromFQN + "\x00" + targetClass
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		found = append(found, graph.AntiPattern{
			RuleID:   r.ID(),
			FromFQN:  e.FromFQN,
			ToFQN:    e.ToFQN,
			Severity: r.Severity(),
			Message: "controller " + methodOwner[e.FromFQN] + " calls data layer " +
				targetClass + " directly",
		})
	}
	return found, nil
}

// isDataLayerClass decides whether a class FQN belongs to the data layer,
// either by annotation when the class is in the graph or by the JVM naming
// convention. BaseMapper-style framework supertypes are not violations on
// their own name.
func isDataLayerClass(classFQN string, classByFQN map[string]graph.Symbol) bool {
	if cls, ok := classByFQN[classFQN]; ok {
		for _, ann := range cls.Annotations {
			name := strings.TrimPrefix(ann, "@")
			if strings.Contains(name, "Repository") || strings.Contains(name, "Mapper") {
				return true
			}
		}
	}
	name := classFQN
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if strings.HasPrefix(name, "Base") {
		return false
	}
	return strings.HasSuffix(name, "Mapper") ||
		strings.HasSuffix(name, "Dao") ||
		strings.HasSuffix(name, "Repository")
}

// enclosingClassFQN strips the trailing method segment when present.
func enclosingClassFQN(fqn string) string {
	i := strings.LastIndex(fqn, ".")
	if i <= 0 {
		return fqn
	}
	last := fqn[i+1:]
	if last != "" && last[0] >= 'A' && last[0] <= 'Z' {
		return fqn // already a class
	}
	return fqn[:i]
}
