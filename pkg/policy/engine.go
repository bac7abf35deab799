package policy

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/polisai/polis-dispatch/pkg/domain"
)

// EngineOptions control OPA engine construction and runtime behaviour.
type EngineOptions struct {
	// Entrypoint is the default decision path (e.g. "dispatch/allow").
	Entrypoint string
	// Modules contains the Rego modules that should be loaded into the engine.
	Modules map[string]string
	// CacheMaxEntries bounds the decision cache size (LRU). Zero selects the
	// default size; negative disables caching entirely.
	CacheMaxEntries int
	Logger          *slog.Logger
}

// Engine evaluates policy decisions using an embedded OPA SDK instance.
type Engine struct {
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	entrypoint    string
	cache         *decisionCache
	queries       map[string]*rego.PreparedEvalQuery
	logger        *slog.Logger
	mu            sync.RWMutex
}

const (
	defaultEntrypoint    = "dispatch/allow"
	defaultCacheCapacity = 1024
)

// NewEngine parses the modules and compiles the default entrypoint.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}

	if len(opts.Modules) == 0 {
		return nil, errors.New("policy engine requires at least one rego module")
	}

	maxEntries := opts.CacheMaxEntries
	switch {
	case maxEntries == 0:
		maxEntries = defaultCacheCapacity
	case maxEntries < 0:
		maxEntries = 0
	}

	var cache *decisionCache
	if maxEntries > 0 {
		cache = newDecisionCache(maxEntries)
	}

	moduleOrder := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	parsedModules := make(map[string]*ast.Module, len(moduleOrder))
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		parsedModules[name] = module
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		moduleOrder:   moduleOrder,
		parsedModules: parsedModules,
		entrypoint:    entry,
		cache:         cache,
		queries:       make(map[string]*rego.PreparedEvalQuery),
		logger:        logger,
	}

	// Warm the default entrypoint to surface compile errors early.
	if _, err := engine.getPreparedQuery(ctx, entry); err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	return engine, nil
}

// Entrypoint returns the default decision path.
func (e *Engine) Entrypoint() string { return e.entrypoint }

// Evaluate runs the default entrypoint against input.
func (e *Engine) Evaluate(ctx context.Context, input domain.PolicyInput) (Decision, error) {
	return e.EvaluateAt(ctx, e.entrypoint, input)
}

// EvaluateAt runs entry against input. An undefined result denies the request.
func (e *Engine) EvaluateAt(ctx context.Context, entry string, input domain.PolicyInput) (Decision, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return Decision{}, errors.New("policy engine requires an entrypoint")
	}

	payload := input.Map()

	cacheKey, shouldCache := e.cacheKey(entry, payload)
	if shouldCache {
		if cached, ok := e.cache.Get(cacheKey); ok {
			return cloneDecision(cached), nil
		}
	}

	prepared, err := e.getPreparedQuery(ctx, entry)
	if err != nil {
		return Decision{}, fmt.Errorf("prepare query: %w", err)
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}

	var decision Decision
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		e.logger.DebugContext(ctx, "policy decision undefined", "entrypoint", entry, "route", input.Name)
		decision = Decision{Action: ActionDeny, Reason: "policy decision undefined", Metadata: map[string]string{}}
	} else {
		decision, err = parseDecision(results[0].Expressions[0].Value)
		if err != nil {
			return Decision{}, err
		}
	}

	if shouldCache {
		e.cache.Add(cacheKey, decision)
	}

	return decision, nil
}

// FlushCache clears all cached decisions. Safe to call concurrently.
func (e *Engine) FlushCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

func (e *Engine) getPreparedQuery(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if prepared, ok := e.queries[entry]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	e.mu.RUnlock()

	query := "data." + strings.ReplaceAll(entry, "/", ".")

	opts := make([]func(*rego.Rego), 0, len(e.parsedModules)+1)
	opts = append(opts, rego.Query(query))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have already prepared the query; respect first entry.
	if existing, ok := e.queries[entry]; ok {
		return existing, nil
	}

	e.queries[entry] = &prepared
	return &prepared, nil
}

// cacheKey hashes the entrypoint and the canonical JSON form of the input. Inputs
// that cannot be encoded are not cached.
func (e *Engine) cacheKey(entry string, payload map[string]any) (string, bool) {
	if e.cache == nil {
		return "", false
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", false
	}
	h := sha256.New()
	h.Write([]byte(entry))
	h.Write([]byte{0})
	h.Write(encoded)
	return hex.EncodeToString(h.Sum(nil)), true
}

func parseDecision(value any) (Decision, error) {
	switch typed := value.(type) {
	case bool:
		if typed {
			return Decision{Action: ActionAllow, Metadata: map[string]string{}}, nil
		}
		return Decision{Action: ActionDeny, Reason: "denied by policy", Metadata: map[string]string{}}, nil
	case map[string]any:
		action, err := parseAction(typed)
		if err != nil {
			return Decision{}, err
		}
		reason, _ := typed["reason"].(string)
		if reason == "" && action == ActionDeny {
			reason = "denied by policy"
		}
		return Decision{Action: action, Reason: reason, Metadata: parseMetadata(typed["metadata"])}, nil
	default:
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", value)
	}
}

// parseAction reads either an "allow" boolean or an "action" string.
func parseAction(payload map[string]any) (Action, error) {
	if allow, ok := payload["allow"].(bool); ok {
		if allow {
			return ActionAllow, nil
		}
		return ActionDeny, nil
	}
	switch value := payload["action"].(type) {
	case nil:
		return ActionDeny, nil
	case string:
		switch Action(strings.ToLower(value)) {
		case ActionAllow:
			return ActionAllow, nil
		case ActionDeny, "block":
			return ActionDeny, nil
		default:
			return Action(""), fmt.Errorf("opa decision: unknown action %q", value)
		}
	default:
		return Action(""), fmt.Errorf("opa decision: action must be string, got %T", value)
	}
}

func parseMetadata(value any) map[string]string {
	result := map[string]string{}
	typed, ok := value.(map[string]any)
	if !ok {
		return result
	}
	for key, raw := range typed {
		if str, ok := raw.(string); ok {
			result[key] = str
		}
	}
	return result
}

func cloneDecision(dec Decision) Decision {
	metadata := make(map[string]string, len(dec.Metadata))
	for key, value := range dec.Metadata {
		metadata[key] = value
	}
	return Decision{Action: dec.Action, Reason: dec.Reason, Metadata: metadata}
}

type decisionCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheItem struct {
	key   string
	value Decision
}

func newDecisionCache(capacity int) *decisionCache {
	return &decisionCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (c *decisionCache) Get(key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	c.order.MoveToFront(elem)
	item := elem.Value.(cacheItem)
	return item.value, true
}

func (c *decisionCache) Add(key string, value Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = cacheItem{key: key, value: value}
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(cacheItem{key: key, value: value})
	c.entries[key] = elem

	if c.order.Len() <= c.max {
		return
	}

	if tail := c.order.Back(); tail != nil {
		c.order.Remove(tail)
		delete(c.entries, tail.Value.(cacheItem).key)
	}
}

func (c *decisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.max)
}
