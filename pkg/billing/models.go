package billing

import (
	"slices"
	"strings"
)

// ModelPolicy maps tiers to the models they may use.
type ModelPolicy struct {
	aliases map[string]string
	access  map[string][]string
	free    string
}

// NewModelPolicy builds a policy; freeTier names the list used for unknown tiers.
func NewModelPolicy(spec ModelsSpec, freeTier string) *ModelPolicy {
	p := &ModelPolicy{
		aliases: make(map[string]string, len(spec.Aliases)),
		access:  make(map[string][]string, len(spec.Access)),
		free:    freeTier,
	}
	for k, v := range spec.Aliases {
		p.aliases[k] = v
	}
	for tier, models := range spec.Access {
		p.access[tier] = slices.Clone(models)
	}
	return p
}

// Canonical resolves a possibly aliased model name.
func (p *ModelPolicy) Canonical(model string) string {
	if v, ok := p.aliases[model]; ok {
		return v
	}
	return model
}

// ForTier returns the allow-list of a tier, falling back to the free list.
func (p *ModelPolicy) ForTier(name string) []string {
	if models, ok := p.access[name]; ok {
		return slices.Clone(models)
	}
	return slices.Clone(p.access[p.free])
}

// HasTier reports whether the tier has its own allow-list.
func (p *ModelPolicy) HasTier(name string) bool {
	_, ok := p.access[name]
	return ok
}

// Broadest returns the union of every configured allow-list.
func (p *ModelPolicy) Broadest() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, models := range p.access {
		for _, m := range models {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return out
}

// Models returns every canonical model reachable through the alias table, sorted.
func (p *ModelPolicy) Models() []string {
	seen := make(map[string]struct{}, len(p.aliases))
	var out []string
	for _, full := range p.aliases {
		if _, ok := seen[full]; ok {
			continue
		}
		seen[full] = struct{}{}
		out = append(out, full)
	}
	slices.Sort(out)
	return out
}

var providerPrefixes = []string{"openai/", "anthropic/", "openrouter/", "xai/"}

// ShortName returns the shortest human alias of a canonical model, if any.
func (p *ModelPolicy) ShortName(model string) string {
	var best string
	for short, full := range p.aliases {
		if full != model || short == full || hasProviderPrefix(short) {
			continue
		}
		if best == "" || len(short) < len(best) || (len(short) == len(best) && short < best) {
			best = short
		}
	}
	return best
}

// RequiresSubscription reports whether the model is outside the free list.
func (p *ModelPolicy) RequiresSubscription(model string) bool {
	return !slices.Contains(p.access[p.free], model)
}

// DisplayName returns the short alias or the last path segment of the model.
func (p *ModelPolicy) DisplayName(model string) string {
	if s := p.ShortName(model); s != "" {
		return s
	}
	if i := strings.LastIndex(model, "/"); i >= 0 {
		return model[i+1:]
	}
	return model
}

func hasProviderPrefix(s string) bool {
	for _, prefix := range providerPrefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
