package routing

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/polisai/polis-dispatch/pkg/domain"
)

// DefaultPaths are the body paths consulted when an envelope carries no explicit name.
var DefaultPaths = []string{"request.intent.name", "request.type"}

// Resolver computes the route identifier of a request: the envelope name when set,
// otherwise the first non-empty string found at one of Paths in the JSON body,
// otherwise the envelope type.
type Resolver struct {
	paths []string
}

// NewResolver returns a resolver over paths, or DefaultPaths when none are given.
func NewResolver(paths ...string) *Resolver {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultPaths...)
	}
	return &Resolver{paths: cleaned}
}

// Paths returns the body paths in lookup order.
func (r *Resolver) Paths() []string {
	return append([]string(nil), r.paths...)
}

// Name returns the route identifier of in and caches it in in.ResolvedName.
// It is the name resolver handed to the dispatch configuration builder.
func (r *Resolver) Name(in *domain.HandlerInput) string {
	if in == nil {
		return ""
	}
	if in.ResolvedName != "" {
		return in.ResolvedName
	}
	in.ResolvedName = r.resolve(in.Envelope)
	return in.ResolvedName
}

// Process resolves the name ahead of routing so that request interceptors can key
// on it. It never fails.
func (r *Resolver) Process(_ context.Context, in *domain.HandlerInput) error {
	r.Name(in)
	return nil
}

func (r *Resolver) resolve(env *domain.Envelope) string {
	if env == nil {
		return ""
	}
	if name := strings.TrimSpace(env.Name); name != "" {
		return name
	}
	if len(env.Body) > 0 && gjson.ValidBytes(env.Body) {
		results := gjson.GetManyBytes(env.Body, r.paths...)
		for _, res := range results {
			if res.Type == gjson.String && strings.TrimSpace(res.Str) != "" {
				return strings.TrimSpace(res.Str)
			}
		}
	}
	return strings.TrimSpace(env.Type)
}

// Extract returns the string at path in the envelope body, or "".
func Extract(env *domain.Envelope, path string) string {
	if env == nil || len(env.Body) == 0 {
		return ""
	}
	res := gjson.GetBytes(env.Body, path)
	if !res.Exists() {
		return ""
	}
	return res.String()
}
