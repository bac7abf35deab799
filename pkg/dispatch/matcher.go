package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// NameResolver extracts the route identifier (intent, command, event name) of a request.
type NameResolver[I any] func(in I) string

type matcherKind uint8

const (
	matcherUnset matcherKind = iota
	matcherIdentifier
	matcherPredicate
	matcherErrorIs
	matcherAnyError
)

// Matcher selects requests for a route. It is either an identifier compared to the
// request's resolved name, or an arbitrary predicate. Both forms become a Predicate
// when the route is registered.
type Matcher[I any] struct {
	kind      matcherKind
	name      string
	predicate Predicate[I]
}

// MatchName matches requests whose resolved name equals name.
func MatchName[I any](name string) Matcher[I] {
	return Matcher[I]{kind: matcherIdentifier, name: name}
}

// MatchFunc matches requests accepted by predicate.
func MatchFunc[I any](predicate Predicate[I]) Matcher[I] {
	return Matcher[I]{kind: matcherPredicate, predicate: predicate}
}

// Identifier returns the identifier of a MatchName matcher and false otherwise.
func (m Matcher[I]) Identifier() (string, bool) {
	return m.name, m.kind == matcherIdentifier
}

func (m Matcher[I]) compile(resolve NameResolver[I]) (Predicate[I], error) {
	switch m.kind {
	case matcherIdentifier:
		if m.name == "" {
			return nil, errors.New("identifier matcher requires a non-empty name")
		}
		if resolve == nil {
			return nil, fmt.Errorf("identifier matcher %q requires a name resolver", m.name)
		}
		name := m.name
		return func(_ context.Context, in I) (bool, error) {
			return resolve(in) == name, nil
		}, nil
	case matcherPredicate:
		if m.predicate == nil {
			return nil, errors.New("predicate matcher requires a predicate")
		}
		return m.predicate, nil
	default:
		return nil, errors.New("matcher is not initialised")
	}
}

// ErrorMatcher selects failures for a recovery route.
type ErrorMatcher[I any] struct {
	kind      matcherKind
	target    error
	predicate ErrorPredicate[I]
}

// MatchErrorIs matches failures for which errors.Is(err, target) holds.
func MatchErrorIs[I any](target error) ErrorMatcher[I] {
	return ErrorMatcher[I]{kind: matcherErrorIs, target: target}
}

// MatchErrorFunc matches failures accepted by predicate.
func MatchErrorFunc[I any](predicate ErrorPredicate[I]) ErrorMatcher[I] {
	return ErrorMatcher[I]{kind: matcherPredicate, predicate: predicate}
}

// MatchAnyError matches every failure. Register it last.
func MatchAnyError[I any]() ErrorMatcher[I] {
	return ErrorMatcher[I]{kind: matcherAnyError}
}

func (m ErrorMatcher[I]) compile() (ErrorPredicate[I], error) {
	switch m.kind {
	case matcherErrorIs:
		if m.target == nil {
			return nil, errors.New("error matcher requires a target error")
		}
		target := m.target
		return func(_ context.Context, _ I, err error) (bool, error) {
			return errors.Is(err, target), nil
		}, nil
	case matcherPredicate:
		if m.predicate == nil {
			return nil, errors.New("error predicate matcher requires a predicate")
		}
		return m.predicate, nil
	case matcherAnyError:
		return func(context.Context, I, error) (bool, error) { return true, nil }, nil
	default:
		return nil, errors.New("error matcher is not initialised")
	}
}
