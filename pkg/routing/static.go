package routing

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/polisai/polis-dispatch/pkg/dispatch"
	"github.com/polisai/polis-dispatch/pkg/domain"
)

// StaticRoute is a route whose reply is fully declared in configuration. Speech and
// Reprompt may reference body values with {{ slot "path" }}.
type StaticRoute struct {
	Name        string
	Speech      string
	Reprompt    string
	CardTitle   string
	CardContent string
	EndSession  bool
	Status      int
}

// Handler returns the executor that renders r.
func (r StaticRoute) Handler() (dispatch.HandlerFunc[*domain.HandlerInput, *domain.Response], error) {
	speech, err := parseTemplate(r.Name+".speech", r.Speech)
	if err != nil {
		return nil, err
	}
	reprompt, err := parseTemplate(r.Name+".reprompt", r.Reprompt)
	if err != nil {
		return nil, err
	}

	return func(_ context.Context, in *domain.HandlerInput) (*domain.Response, error) {
		b := in.Response
		if b == nil {
			b = domain.NewResponseBuilder()
		}
		text, err := render(speech, in)
		if err != nil {
			return nil, err
		}
		b.Speak(text)
		if reprompt != nil {
			text, err := render(reprompt, in)
			if err != nil {
				return nil, err
			}
			b.Reprompt(text)
		}
		if r.CardTitle != "" {
			b.WithCard(r.CardTitle, r.CardContent)
		}
		if r.Status != 0 {
			b.WithStatus(r.Status)
		}
		return b.EndSession(r.EndSession).Build(), nil
	}, nil
}

// RegisterStatic adds one named route per static route, in order. Nothing is
// registered when any route fails to compile.
func RegisterStatic(b *dispatch.ConfigurationBuilder[*domain.HandlerInput, *domain.Response], routes ...StaticRoute) error {
	handlers := make([]dispatch.HandlerFunc[*domain.HandlerInput, *domain.Response], len(routes))
	for i, route := range routes {
		handler, err := route.Handler()
		if err != nil {
			return fmt.Errorf("static route %q: %w", route.Name, err)
		}
		handlers[i] = handler
	}
	for i, route := range routes {
		b.AddNamedHandler(route.Name, handlers[i])
	}
	return nil
}

func parseTemplate(name, text string) (*template.Template, error) {
	if text == "" {
		return nil, nil
	}
	return template.New(name).Option("missingkey=zero").Funcs(template.FuncMap{
		"slot": func(string) string { return "" },
	}).Parse(text)
}

func render(tmpl *template.Template, in *domain.HandlerInput) (string, error) {
	if tmpl == nil {
		return "", nil
	}
	var sb strings.Builder
	err := template.Must(tmpl.Clone()).Funcs(template.FuncMap{
		"slot": func(path string) string { return Extract(in.Envelope, path) },
	}).Execute(&sb, in.Attributes)
	return sb.String(), err
}
