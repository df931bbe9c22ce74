package cmdserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lydakis/hgx/options"
)

// Factory creates the Client for a repository. It must not start it.
type Factory func(repo string) *Client

// Registry owns one Client per repository path, creating them on demand.
type Registry struct {
	factory Factory

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry creates a registry. A nil factory creates clients with New
// and no options.
func NewRegistry(factory Factory) *Registry {
	if factory == nil {
		factory = func(repo string) *Client { return New(repo) }
	}
	return &Registry{
		factory: factory,
		clients: make(map[string]*Client),
	}
}

// Get returns the Client for repo, creating it if needed. The empty repo
// is the client for global commands.
func (r *Registry) Get(repo string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[repo]; ok {
		return c
	}
	c := r.factory(repo)
	r.clients[repo] = c
	return c
}

// Run runs a command through the repository's client. When the failure
// leaves the client's process unusable, the client is dropped so the next
// call gets a fresh one.
func (r *Registry) Run(ctx context.Context, repo, command string, args []string, opts options.Set) ([][]byte, error) {
	c := r.Get(repo)
	out, err := c.Run(ctx, command, args, opts)
	if err != nil {
		if Broken(err) {
			r.invalidate(repo, c)
		}
		return nil, err
	}
	return out, nil
}

func (r *Registry) invalidate(repo string, c *Client) {
	r.mu.Lock()
	if current, ok := r.clients[repo]; ok && current == c {
		delete(r.clients, repo)
	}
	r.mu.Unlock()

	c.Stop() //nolint: errcheck
}

// Remove stops and forgets the client for repo. It does nothing when no
// client exists.
func (r *Registry) Remove(repo string) error {
	r.mu.Lock()
	c, ok := r.clients[repo]
	if ok {
		delete(r.clients, repo)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := c.Stop(); err != nil {
		return fmt.Errorf("stopping %s: %w", displayRepo(repo), err)
	}
	return nil
}

// Repos returns the repositories with a client, sorted.
func (r *Registry) Repos() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	repos := make([]string, 0, len(r.clients))
	for repo := range r.clients {
		repos = append(repos, repo)
	}
	sort.Strings(repos)
	return repos
}

// Running returns the repositories whose client has a live process, sorted.
func (r *Registry) Running() []string {
	r.mu.Lock()
	clients := make(map[string]*Client, len(r.clients))
	for repo, c := range r.clients {
		clients[repo] = c
	}
	r.mu.Unlock()

	var repos []string
	for repo, c := range clients {
		if c.IsStarted() {
			repos = append(repos, repo)
		}
	}
	sort.Strings(repos)
	return repos
}

// CloseAll stops every client and empties the registry.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	var errs []error
	for repo, c := range clients {
		if err := c.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", displayRepo(repo), err))
		}
	}
	return errors.Join(errs...)
}

func displayRepo(repo string) string {
	if repo == "" {
		return "global client"
	}
	return repo
}
