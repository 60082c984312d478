package connector

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/manga-tracker/internal/config"
)

// Registry maps source domains to connectors
type Registry struct {
	mu       sync.RWMutex
	byDomain map[string]Connector
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{byDomain: make(map[string]Connector)}
}

// Register binds a connector to a domain, replacing any previous binding
func (r *Registry) Register(domain string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDomain[normalizeDomain(domain)] = c
}

// Resolve finds the connector for a source domain. Subdomains resolve to
// their registered parent, so "api.mangadex.org" matches "mangadex.org".
func (r *Registry) Resolve(domain string) (Connector, bool) {
	host := normalizeDomain(domain)
	if host == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for {
		if c, ok := r.byDomain[host]; ok {
			return c, true
		}
		dot := strings.IndexByte(host, '.')
		if dot < 0 || !strings.Contains(host[dot+1:], ".") {
			return nil, false
		}
		host = host[dot+1:]
	}
}

// Domains lists the registered domains
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byDomain))
	for d := range r.byDomain {
		out = append(out, d)
	}
	return out
}

// normalizeDomain accepts a bare host or a URL and returns the lowercase host
// without port or leading "www."
func normalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	if strings.Contains(d, "://") {
		if u, err := url.Parse(d); err == nil {
			d = u.Host
		}
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndexByte(d, ':'); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimSuffix(d, ".")
	return strings.TrimPrefix(d, "www.")
}

// MangaDexDomain is the source domain served by the MangaDex connector
const MangaDexDomain = "mangadex.org"

// NewDefaultRegistry registers every built-in connector
func NewDefaultRegistry(cfg *config.Config) (*Registry, error) {
	reg := NewRegistry()

	md, err := NewMangaDexConnector(&cfg.MangaDex, cfg.Sync.FetchTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create mangadex connector: %w", err)
	}

	var c Connector = md
	if cfg.MangaDex.BreakerEnabled {
		c = NewBreakerConnector(md, DefaultBreakerConfig())
	}
	reg.Register(MangaDexDomain, c)

	return reg, nil
}
