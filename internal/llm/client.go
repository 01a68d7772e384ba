// Package llm provides chat-completion clients for the providers digestd
// knows how to talk to. Providers register themselves in a closed lookup
// table; callers pick one by name through Open.
package llm

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Client is the single contract the pipeline has with a language model.
// When jsonMode is true the provider is asked for structured JSON output.
// Implementations bound every call with Options.Timeout.
type Client interface {
	Complete(ctx context.Context, prompt string, jsonMode bool) (string, error)
}

// Options configures a provider client.
type Options struct {
	Provider string        // registry key: "ollama" or "openrouter"
	BaseURL  string        // provider endpoint; defaults are per-provider
	Model    string        // model name passed through to the provider
	APIKey   string        // required by providers that authenticate
	Timeout  time.Duration // per-call bound; default 60s
}

type factory func(Options) (Client, error)

var providers = map[string]factory{}

func register(name string, f factory) {
	providers[name] = f
}

// Open constructs the client for the configured provider.
// An unknown provider name is a configuration error.
func Open(opts Options) (Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	f, ok := providers[opts.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q (available: %v)", opts.Provider, Providers())
	}
	return f(opts)
}

// Providers returns the registered provider names, sorted.
func Providers() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
