package graph

import "time"

// Symbol kinds.
const (
	KindClass     = "class"
	KindInterface = "interface"
	KindMethod    = "method"
	KindField     = "field"
)

// Edge relations.
const (
	RelationCalls        = "calls"
	RelationInherits     = "inherits"
	RelationImplements   = "implements"
	RelationInstantiates = "instantiates"
	RelationInjects      = "injects"
	RelationMemberOf     = "member_of"
)

// Entry point types.
const (
	EntryHTTPAPI    = "http_api"
	EntryScheduled  = "scheduled"
	EntryMQConsumer = "mq_consumer"
)

// Summary levels.
const (
	LevelMethod  = "method"
	LevelClass   = "class"
	LevelPackage = "package"
	LevelModule  = "module"
)

// Architectural layers derived from annotations and naming.
const (
	LayerController = "controller"
	LayerService    = "service"
	LayerRepository = "repository"
	LayerDomain     = "domain"
	LayerUnknown    = "unknown"
)

// Symbol is the atom of the graph. The FQN is the universal join key,
// stable across rebuilds.
type Symbol struct {
	FQN         string    `json:"fqn"`
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	FilePath    string    `json:"file_path,omitempty"`
	LineNumber  int       `json:"line_number,omitempty"`
	Signature   string    `json:"signature,omitempty"`
	ParentFQN   string    `json:"parent_fqn,omitempty"`
	Modifiers   []string  `json:"modifiers,omitempty"`
	Annotations []string  `json:"annotations,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Edge is a directed labeled relation between two FQNs. Either endpoint may
// be external to the symbol table; edges are not unique.
type Edge struct {
	FromFQN  string            `json:"from_fqn"`
	ToFQN    string            `json:"to_fqn"`
	Relation string            `json:"relation"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ChainRow is one hop of a recursive traversal, depth-ordered and
// deduplicated over (from_fqn, to_fqn, relation).
type ChainRow struct {
	Depth    int    `json:"depth"`
	FromFQN  string `json:"from_fqn"`
	ToFQN    string `json:"to_fqn"`
	Relation string `json:"relation"`
}

// RelatedSymbol is a resolved neighbour of a symbol.
type RelatedSymbol struct {
	Symbol    Symbol `json:"symbol"`
	Relation  string `json:"relation"`
	Direction string `json:"direction"` // incoming or outgoing
}

// EntryPoint marks a symbol reachable from outside the process.
type EntryPoint struct {
	SymbolFQN  string `json:"symbol_fqn"`
	Type       string `json:"type"`
	HTTPMethod string `json:"http_method,omitempty"`
	HTTPPath   string `json:"http_path,omitempty"`
	Cron       string `json:"cron,omitempty"`
	MQQueue    string `json:"mq_queue,omitempty"`
}

// ExternalDependency records a call from an internal symbol to well-known
// infrastructure. Deduplicated by (caller, type, target).
type ExternalDependency struct {
	CallerFQN string `json:"caller_fqn"`
	Type      string `json:"type"`     // mysql, redis, mq, http, rpc
	Target    string `json:"target"`
	Strength  string `json:"strength"` // strong, weak
}

// Summary is a business summary for one symbol. IsStale means the text is
// absent or known to disagree with current code.
type Summary struct {
	TargetFQN   string    `json:"target_fqn"`
	Level       string    `json:"level"`
	SummaryText string    `json:"summary_text"`
	VectorID    string    `json:"vector_id,omitempty"`
	IsStale     bool      `json:"is_stale"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// GlossaryEntry maps a code term to its business meaning.
type GlossaryEntry struct {
	CodeTerm        string   `json:"code_term"`
	BusinessMeaning string   `json:"business_meaning"`
	Synonyms        []string `json:"synonyms,omitempty"`
	SourceFQN       string   `json:"source_fqn,omitempty"`
	VectorID        string   `json:"vector_id,omitempty"`
}

// Constraint is a named business rule or invariant discovered in code.
type Constraint struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	SourceFQN   string `json:"source_fqn,omitempty"`
	SourceLine  int    `json:"source_line,omitempty"`
	Type        string `json:"type"` // validation, business_rule, invariant
	VectorID    string `json:"vector_id,omitempty"`
}

// AntiPattern is a detected architectural violation.
type AntiPattern struct {
	RuleID     string    `json:"rule_id"`
	FromFQN    string    `json:"from_fqn"`
	ToFQN      string    `json:"to_fqn,omitempty"`
	Severity   string    `json:"severity"` // error, warning, info
	Message    string    `json:"message"`
	DetectedAt time.Time `json:"detected_at,omitempty"`
}
