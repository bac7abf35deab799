package dispatch

import "context"

type routeKey struct{}

// ContextWithRoute returns a copy of ctx carrying the matched route name.
func ContextWithRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, routeKey{}, route)
}

// RouteFromContext returns the route the dispatcher matched, or "" before routing.
// Local interceptors, adapters, handlers and response interceptors see it.
func RouteFromContext(ctx context.Context) string {
	route, _ := ctx.Value(routeKey{}).(string)
	return route
}
