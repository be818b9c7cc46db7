package hoster

import (
	"net/url"
	"strings"
	"sync"
)

// Registry dispatches a repository URL to the Client configured for its
// host, mirroring the teacher's per-provider client selection in
// pkg/repository/repository.go but keyed by hostname instead of an
// explicit provider enum, so self-hosted GitLab/GitHub Enterprise
// instances register under their own domain.
type Registry struct {
	mu     sync.RWMutex
	byHost map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{byHost: make(map[string]Client)}
}

// Register associates host (e.g. "github.com", "salsa.debian.org") with
// the Client that should serve proposals for repositories hosted there.
func (r *Registry) Register(host string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHost[strings.ToLower(host)] = client
}

// ForURL resolves repoURL's host to a registered Client and splits its
// path into owner/repo. ok is false if no Client is registered for that
// host, or the path doesn't look like /owner/repo(.git).
func (r *Registry) ForURL(repoURL string) (client Client, owner, repo string, ok bool) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return nil, "", "", false
	}

	r.mu.RLock()
	client, found := r.byHost[strings.ToLower(u.Host)]
	r.mu.RUnlock()
	if !found {
		return nil, "", "", false
	}

	path := strings.Trim(u.Path, "/")
	path = strings.TrimSuffix(path, ".git")
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return nil, "", "", false
	}
	return client, parts[0], parts[1], true
}

// All returns every registered Client, for the reconciler's full walk
// across every hosting-service instance the system is configured for
// (spec.md §4.5).
func (r *Registry) All() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.byHost))
	for _, c := range r.byHost {
		out = append(out, c)
	}
	return out
}
