package apperr

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 problem-details document. Every error crossing the
// HTTP boundary is rendered through this envelope with a stable type URI.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

const problemTypeBase = "https://ariadne.dev/problems/"

// ProblemOf maps an error to its problem document.
func ProblemOf(err error) Problem {
	kind := KindOf(err)
	p := Problem{
		Type:   problemTypeBase + kind.String(),
		Title:  kind.String(),
		Detail: err.Error(),
	}
	switch kind {
	case KindNotFound:
		p.Status = http.StatusNotFound
	case KindInvalidArgument:
		p.Status = http.StatusBadRequest
	case KindConflict:
		p.Status = http.StatusConflict
	case KindUnavailable, KindTransient:
		p.Status = http.StatusServiceUnavailable
	case KindIntegrity, KindRebuildFailed:
		p.Status = http.StatusInternalServerError
	default:
		p.Status = http.StatusInternalServerError
	}
	return p
}

// WriteProblem renders err as application/problem+json on w.
func WriteProblem(w http.ResponseWriter, r *http.Request, err error) {
	p := ProblemOf(err)
	p.Instance = r.URL.Path
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
