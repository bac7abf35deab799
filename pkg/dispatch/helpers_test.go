package dispatch

import (
	"context"
	"errors"
)

type request struct {
	name  string
	trace []string
	attrs map[string]any
}

type response struct {
	body string
	flag bool
}

func newRequest(name string) *request {
	return &request{name: name, attrs: map[string]any{}}
}

func resolveName(in *request) string { return in.name }

type builder = ConfigurationBuilder[*request, *response]

func newBuilder() *builder {
	return NewConfigurationBuilder[*request, *response](resolveName)
}

// traceStep appends a label to the request trace.
func traceStep(label string) RequestInterceptorFunc[*request] {
	return func(_ context.Context, in *request) error {
		in.trace = append(in.trace, label)
		return nil
	}
}

func traceResponseStep(label string) ResponseInterceptorFunc[*request, *response] {
	return func(_ context.Context, in *request, _ *response) error {
		in.trace = append(in.trace, label)
		return nil
	}
}

func respond(body string) HandlerFunc[*request, *response] {
	return func(_ context.Context, in *request) (*response, error) {
		in.trace = append(in.trace, "handler:"+body)
		return &response{body: body}, nil
	}
}

func fail(err error) HandlerFunc[*request, *response] {
	return func(_ context.Context, in *request) (*response, error) {
		in.trace = append(in.trace, "handler:fail")
		return nil, err
	}
}

// countingHandler records how often each capability is used.
type countingHandler struct {
	name    string
	accept  bool
	checks  int
	handled int
}

func (h *countingHandler) RouteName() string { return h.name }

func (h *countingHandler) CanHandle(context.Context, *request) (bool, error) {
	h.checks++
	return h.accept, nil
}

func (h *countingHandler) Handle(_ context.Context, in *request) (*response, error) {
	h.handled++
	in.trace = append(in.trace, "handler:"+h.name)
	return &response{body: h.name}, nil
}

type countingErrorHandler struct {
	name    string
	accept  bool
	checks  int
	handled int
	result  error
}

func (h *countingErrorHandler) CanHandle(context.Context, *request, error) (bool, error) {
	h.checks++
	return h.accept, nil
}

func (h *countingErrorHandler) Handle(context.Context, *request, error) (*response, error) {
	h.handled++
	if h.result != nil {
		return nil, h.result
	}
	return &response{body: "recovered:" + h.name}, nil
}

var errBoom = errors.New("boom")
