// Package apperr defines the error taxonomy shared by the enrichment
// components: configuration, provider, parse, and precondition failures.
package apperr

import (
	"errors"
	"fmt"
)

// Category groups errors for the transport layer.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryProvider      Category = "provider"
	CategoryParse         Category = "parse"
	CategoryPrecondition  Category = "precondition"
	CategoryGeneric       Category = "generic"
)

// ConfigError reports a missing or invalid external-service credential.
// Returned by client constructors.
type ConfigError struct {
	Service string
	Key     string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: missing required config %s", e.Service, e.Key)
}

// ProviderError reports a non-success response from an external API.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.Status, e.Body)
}

// ParseError reports model output that could not be decoded as JSON.
// Owners absorb it with a fallback value; it should never reach a caller
// outside the owning component.
type ParseError struct {
	Stage string
	Raw   string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("parsing model output: %v", e.Err)
	}
	return fmt.Sprintf("parsing %s output: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PreconditionError reports a call made without a required input.
type PreconditionError struct {
	Op      string
	Missing string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: missing required input %s", e.Op, e.Missing)
}

// CategoryOf classifies err by the first taxonomy error found in its chain.
func CategoryOf(err error) Category {
	var (
		cfg  *ConfigError
		prov *ProviderError
		prs  *ParseError
		pre  *PreconditionError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pre):
		return CategoryPrecondition
	case errors.As(err, &prov):
		return CategoryProvider
	case errors.As(err, &cfg):
		return CategoryConfiguration
	case errors.As(err, &prs):
		return CategoryParse
	default:
		return CategoryGeneric
	}
}
