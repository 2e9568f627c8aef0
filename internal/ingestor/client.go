// Package ingestor talks to the external bytecode analyzer and turns its
// output into graph rows. The analyzer walks compiled classes with ASM and
// reports classes, methods, call sites and Spring entry-point markers; this
// package owns the HTTP plumbing and the JSON-to-graph conversion.
package ingestor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"ariadne/internal/apperr"
	"ariadne/internal/logging"
)

const (
	defaultTimeout = 60 * time.Second
	bulkTimeout    = 600 * time.Second

	// Requests carrying at least this many class files get the bulk budget.
	bulkThreshold = 200
)

// AnalyzeRequest asks the analyzer to scan a project checkout. ClassFiles
// narrows the scan; empty means the whole project.
type AnalyzeRequest struct {
	ProjectRoot string   `json:"projectRoot"`
	ClassFiles  []string `json:"classFiles,omitempty"`
}

// AnalyzeResult is the analyzer's report.
type AnalyzeResult struct {
	Classes []ClassInfo `json:"classes"`
}

// ClassInfo is one analyzed class.
type ClassInfo struct {
	Name        string       `json:"name"` // fully qualified
	Kind        string       `json:"kind"` // class or interface
	SourceFile  string       `json:"sourceFile,omitempty"`
	Superclass  string       `json:"superclass,omitempty"`
	Interfaces  []string     `json:"interfaces,omitempty"`
	Annotations []string     `json:"annotations,omitempty"`
	Methods     []MethodInfo `json:"methods,omitempty"`
}

// MethodInfo is one analyzed method with its call sites and entry-point
// markers.
type MethodInfo struct {
	Name                    string     `json:"name"`
	Signature               string     `json:"signature,omitempty"`
	LineNumber              int        `json:"lineNumber,omitempty"`
	Annotations             []string   `json:"annotations,omitempty"`
	IsRestEndpoint          bool       `json:"isRestEndpoint,omitempty"`
	EntryPointType          string     `json:"entryPointType,omitempty"`
	HTTPMethod              string     `json:"httpMethod,omitempty"`
	APIPath                 string     `json:"apiPath,omitempty"`
	IsScheduled             bool       `json:"isScheduled,omitempty"`
	ScheduledCron           string     `json:"scheduledCron,omitempty"`
	IsMybatisBaseMapperCall bool       `json:"isMybatisBaseMapperCall,omitempty"`
	Calls                   []CallInfo `json:"calls,omitempty"`
}

// CallInfo is one call site inside a method.
type CallInfo struct {
	Owner                   string `json:"owner"` // callee class, fully qualified
	Name                    string `json:"name"`  // callee method
	IsMybatisBaseMapperCall bool   `json:"isMybatisBaseMapperCall,omitempty"`
	DependencyType          string `json:"dependencyType,omitempty"` // mysql, redis, mq, http, rpc
	DependencyTarget        string `json:"dependencyTarget,omitempty"`
}

// Client is the analyzer HTTP client. A circuit breaker keeps a dead
// analyzer from stalling rebuild jobs on full timeouts per attempt.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient creates a client for the analyzer at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{}, // per-request budgets come from the context
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "asm-analyzer",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Health probes the analyzer.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalidArgument, err, "build health request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "analyzer health check")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperr.New(apperr.KindUnavailable, "analyzer health returned %d", resp.StatusCode)
	}
	return nil
}

// Analyze runs one analysis request. Transient failures are retried with
// backoff; the circuit breaker short-circuits once the analyzer looks dead.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	timer := logging.StartTimer(logging.CategoryIngestor, "Analyze")
	defer timer.Stop()

	budget := defaultTimeout
	if len(req.ClassFiles) == 0 || len(req.ClassFiles) >= bulkThreshold {
		budget = bulkTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	var result *AnalyzeResult
	err := backoff.Retry(func() error {
		out, err := c.breaker.Execute(func() (interface{}, error) {
			return c.analyzeOnce(ctx, req)
		})
		if err != nil {
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return backoff.Permanent(apperr.Wrap(apperr.KindUnavailable, err, "analyzer circuit open"))
			}
			if apperr.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = out.(*AnalyzeResult)
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) analyzeOnce(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidArgument, err, "encode analyze request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidArgument, err, "build analyze request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "analyze request")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := apperr.KindUnavailable
		if resp.StatusCode >= 500 {
			kind = apperr.KindTransient
		}
		return nil, apperr.New(kind, "analyzer returned %d: %s", resp.StatusCode, string(snippet))
	}

	var result AnalyzeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "decode analyze response")
	}
	return &result, nil
}
