package graph

import "strings"

// DeriveLayer classifies a symbol architecturally from its annotations.
// Classes without a recognized annotation default to the domain layer;
// methods and fields fall back to unknown.
func DeriveLayer(sym Symbol) string {
	for _, ann := range sym.Annotations {
		name := annotationName(ann)
		switch {
		case name == "Controller" || name == "RestController":
			return LayerController
		case name == "Service":
			return LayerService
		case name == "Repository":
			return LayerRepository
		}
	}
	if sym.Kind == KindClass {
		return LayerDomain
	}
	return LayerUnknown
}

// annotationName strips a leading @ and any package qualifier:
// "@org.springframework.stereotype.Service" -> "Service".
func annotationName(ann string) string {
	ann = strings.TrimPrefix(ann, "@")
	if i := strings.LastIndex(ann, "."); i >= 0 {
		ann = ann[i+1:]
	}
	if i := strings.Index(ann, "("); i >= 0 {
		ann = ann[:i]
	}
	return ann
}
