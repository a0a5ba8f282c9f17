package tools

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stewardhq/steward/internal/graph"
	"github.com/stewardhq/steward/internal/llm"
	"github.com/stewardhq/steward/internal/platform"
)

// Registry assembles the effective tool set for a user from the
// configured providers, honoring the admin category toggles and each
// provider's availability probe. Built sets are memoized per user for
// a short TTL so back-to-back turns don't re-probe everything.
type Registry struct {
	admin     *platform.Client
	providers []Provider
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSet
}

type cachedSet struct {
	set     *Set
	expires time.Time
}

// Set is the tool set built for one user, split by safety class.
type Set struct {
	Safe      []*Tool
	Dangerous []*Tool
}

// NewRegistry creates a registry. admin must be an app-scoped client
// able to read the ex-app configuration.
func NewRegistry(admin *platform.Client, providers []Provider, ttl time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		admin:     admin,
		providers: providers,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
		cache:     make(map[string]cachedSet),
	}
}

// Categories returns the category names of all configured providers.
func (r *Registry) Categories() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.CategoryName())
	}
	return names
}

// BuildFor returns the tool set for userID, using pc for provider
// probes and tool binding. A cached set is returned while its TTL
// holds.
func (r *Registry) BuildFor(ctx context.Context, pc *platform.Client, userID string) (*Set, error) {
	r.mu.Lock()
	if entry, ok := r.cache[userID]; ok && r.now().Before(entry.expires) {
		r.mu.Unlock()
		return entry.set, nil
	}
	r.mu.Unlock()

	status, err := r.admin.ToolStatus(ctx)
	if err != nil {
		// Toggles are an admin nicety; without them every category
		// stays enabled.
		r.logger.Warn("could not read tool toggles, enabling all categories", "error", err)
		status = map[string]bool{}
	}

	set := &Set{}
	for _, p := range r.providers {
		category := p.CategoryName()
		if enabled, ok := status[category]; ok && !enabled {
			r.logger.Debug("tool category disabled by admin", "category", category)
			continue
		}
		if !p.IsAvailable(ctx, pc) {
			r.logger.Debug("tool category unavailable", "category", category, "user", userID)
			continue
		}

		provided, err := p.Tools(ctx, pc)
		if err != nil {
			r.logger.Warn("tool provider failed, skipping category",
				"category", category, "user", userID, "error", err)
			continue
		}

		for _, t := range provided {
			switch t.Safety {
			case SafetyDangerous:
				set.Dangerous = append(set.Dangerous, t)
			case SafetySafe:
				set.Safe = append(set.Safe, t)
			default:
				r.logger.Warn("tool has no safety class, treating as safe",
					"tool", t.Name, "category", category)
				set.Safe = append(set.Safe, t)
			}
		}
	}

	r.mu.Lock()
	r.cache[userID] = cachedSet{set: set, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return set, nil
}

// Invalidate drops the cached set for userID.
func (r *Registry) Invalidate(userID string) {
	r.mu.Lock()
	delete(r.cache, userID)
	r.mu.Unlock()
}

// All returns safe and dangerous tools in one slice.
func (s *Set) All() []*Tool {
	out := make([]*Tool, 0, len(s.Safe)+len(s.Dangerous))
	out = append(out, s.Safe...)
	out = append(out, s.Dangerous...)
	return out
}

// Specs returns the declarations of every tool in the set.
func (s *Set) Specs() []llm.ToolSpec {
	all := s.All()
	specs := make([]llm.ToolSpec, 0, len(all))
	for _, t := range all {
		specs = append(specs, t.Spec())
	}
	return specs
}

// DangerousNames returns the names of the dangerous tools.
func (s *Set) DangerousNames() []string {
	names := make([]string, 0, len(s.Dangerous))
	for _, t := range s.Dangerous {
		names = append(names, t.Name)
	}
	return names
}

// Handlers returns name-to-handler maps for the safe and dangerous
// halves of the set, in the shape the graph's tool nodes consume.
func (s *Set) Handlers() (safe, dangerous map[string]graph.Handler) {
	safe = make(map[string]graph.Handler, len(s.Safe))
	for _, t := range s.Safe {
		safe[t.Name] = t.Handler
	}
	dangerous = make(map[string]graph.Handler, len(s.Dangerous))
	for _, t := range s.Dangerous {
		dangerous[t.Name] = t.Handler
	}
	return safe, dangerous
}

// Lookup finds a tool by name across both halves of the set.
func (s *Set) Lookup(name string) *Tool {
	for _, t := range s.All() {
		if t.Name == name {
			return t
		}
	}
	return nil
}
