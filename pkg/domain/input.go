package domain

import "time"

// HandlerInput is the per-request value passed through the dispatch pipeline.
// Interceptors may annotate Attributes and set ResolvedName; handlers read them and
// build their reply with Response. A HandlerInput belongs to one dispatch and is not
// safe for concurrent use.
type HandlerInput struct {
	Envelope *Envelope

	// Attributes carries per-request state between pipeline stages.
	Attributes map[string]any

	// ResolvedName caches the route identifier once a resolver has computed it.
	ResolvedName string

	Response *ResponseBuilder
}

// NewHandlerInput wraps env. A nil env is replaced with an empty envelope.
func NewHandlerInput(env *Envelope) *HandlerInput {
	if env == nil {
		env = &Envelope{}
	}
	if env.ReceivedAt.IsZero() {
		env.ReceivedAt = time.Now().UTC()
	}
	return &HandlerInput{
		Envelope:   env,
		Attributes: make(map[string]any),
		Response:   NewResponseBuilder(),
	}
}

// RequestID returns the envelope id.
func (in *HandlerInput) RequestID() string {
	if in == nil || in.Envelope == nil {
		return ""
	}
	return in.Envelope.ID
}

// SetAttribute stores a per-request value.
func (in *HandlerInput) SetAttribute(key string, value any) {
	if in.Attributes == nil {
		in.Attributes = make(map[string]any)
	}
	in.Attributes[key] = value
}

// Attribute returns a per-request value.
func (in *HandlerInput) Attribute(key string) (any, bool) {
	v, ok := in.Attributes[key]
	return v, ok
}

// StringAttribute returns a per-request value when it is a string.
func (in *HandlerInput) StringAttribute(key string) string {
	s, _ := in.Attributes[key].(string)
	return s
}
