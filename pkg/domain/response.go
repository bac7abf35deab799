package domain

import (
	"maps"
	"net/http"
	"slices"
)

// Response is the output of a dispatch. Response interceptors receive the same
// instance the handler returned and may modify it in place.
type Response struct {
	// Status is the transport status code. Zero means 200.
	Status     int               `json:"-"`
	Speech     string            `json:"speech,omitempty"`
	Reprompt   string            `json:"reprompt,omitempty"`
	Card       *Card             `json:"card,omitempty"`
	Directives []Directive       `json:"directives,omitempty"`
	EndSession bool              `json:"end_session"`
	Headers    map[string]string `json:"-"`
	Attributes map[string]any    `json:"session_attributes,omitempty"`
	Flags      map[string]bool   `json:"flags,omitempty"`
}

// Card is a visual summary shown alongside speech.
type Card struct {
	Title    string `json:"title"`
	Content  string `json:"content,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Directive instructs the client to perform an action.
type Directive struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// StatusCode returns Status, defaulting to 200.
func (r *Response) StatusCode() int {
	if r == nil || r.Status == 0 {
		return http.StatusOK
	}
	return r.Status
}

// SetFlag marks the response with a named flag.
func (r *Response) SetFlag(name string) {
	if r.Flags == nil {
		r.Flags = make(map[string]bool)
	}
	r.Flags[name] = true
}

// Flag reports whether a named flag is set.
func (r *Response) Flag(name string) bool {
	return r != nil && r.Flags[name]
}

// SetHeader sets a transport header on the response.
func (r *Response) SetHeader(key, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
}

// ResponseBuilder accumulates a Response.
type ResponseBuilder struct {
	resp Response
}

// NewResponseBuilder returns an empty builder.
func NewResponseBuilder() *ResponseBuilder {
	return &ResponseBuilder{}
}

func (b *ResponseBuilder) Speak(text string) *ResponseBuilder {
	b.resp.Speech = text
	return b
}

func (b *ResponseBuilder) Reprompt(text string) *ResponseBuilder {
	b.resp.Reprompt = text
	return b
}

func (b *ResponseBuilder) WithCard(title, content string) *ResponseBuilder {
	b.resp.Card = &Card{Title: title, Content: content}
	return b
}

func (b *ResponseBuilder) AddDirective(directiveType string, payload map[string]any) *ResponseBuilder {
	b.resp.Directives = append(b.resp.Directives, Directive{Type: directiveType, Payload: payload})
	return b
}

func (b *ResponseBuilder) EndSession(end bool) *ResponseBuilder {
	b.resp.EndSession = end
	return b
}

func (b *ResponseBuilder) WithStatus(status int) *ResponseBuilder {
	b.resp.Status = status
	return b
}

func (b *ResponseBuilder) WithAttribute(key string, value any) *ResponseBuilder {
	if b.resp.Attributes == nil {
		b.resp.Attributes = make(map[string]any)
	}
	b.resp.Attributes[key] = value
	return b
}

// Build returns a new Response holding the accumulated state. Later builder calls
// do not affect responses already built.
func (b *ResponseBuilder) Build() *Response {
	out := b.resp
	if b.resp.Card != nil {
		card := *b.resp.Card
		out.Card = &card
	}
	out.Directives = slices.Clone(b.resp.Directives)
	out.Attributes = maps.Clone(b.resp.Attributes)
	return &out
}
