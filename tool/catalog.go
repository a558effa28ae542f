package tool

import (
	"slices"

	"github.com/petal-labs/toolmux/provider"
)

// ProviderTools is one provider's discovery result.
type ProviderTools struct {
	Provider provider.Descriptor
	Tools    []Descriptor
}

// Conflict records a tool name offered by more than one provider. The
// winner is the provider declared last.
type Conflict struct {
	Name     string `json:"name"`
	Previous string `json:"previous_provider"`
	Winner   string `json:"winner_provider"`
}

// Catalog routes tool names to the provider that serves them. It is built
// once and never mutated, so concurrent readers need no locking.
type Catalog struct {
	byName        map[string]Descriptor
	byProvider    map[string][]Descriptor
	names         []string
	providers     map[string]provider.Descriptor
	providerOrder []string
	conflicts     []Conflict
}

// NewCatalog merges discovery results in the given order. When two
// providers offer the same tool name the later one wins routing; the name
// keeps its first-seen position in ListToolNames. Only the first entry for a
// provider id is used; later entries with the same id are ignored.
func NewCatalog(entries ...ProviderTools) *Catalog {
	c := &Catalog{
		byName:     map[string]Descriptor{},
		byProvider: map[string][]Descriptor{},
		providers:  map[string]provider.Descriptor{},
	}
	for _, entry := range entries {
		id := entry.Provider.ID
		if _, seen := c.providers[id]; seen {
			continue
		}
		c.providerOrder = append(c.providerOrder, id)
		c.providers[id] = entry.Provider.Clone()

		for _, desc := range entry.Tools {
			desc = desc.Clone()
			desc.ProviderID = id
			if previous, exists := c.byName[desc.Name]; exists {
				c.conflicts = append(c.conflicts, Conflict{
					Name:     desc.Name,
					Previous: previous.ProviderID,
					Winner:   id,
				})
			} else {
				c.names = append(c.names, desc.Name)
			}
			c.byName[desc.Name] = desc
			c.byProvider[id] = append(c.byProvider[id], desc)
		}
	}
	return c
}

// ListToolNames returns every routable tool name in first-registration order.
func (c *Catalog) ListToolNames() []string {
	if c == nil {
		return nil
	}
	return slices.Clone(c.names)
}

// Lookup returns the descriptor that calls to name are routed to.
func (c *Catalog) Lookup(name string) (Descriptor, bool) {
	if c == nil {
		return Descriptor{}, false
	}
	desc, ok := c.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return desc.Clone(), true
}

// Len is the number of routable tool names.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

// Tools returns the routed descriptor for every name, in ListToolNames order.
func (c *Catalog) Tools() []Descriptor {
	if c == nil {
		return nil
	}
	out := make([]Descriptor, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.byName[name].Clone())
	}
	return out
}

// ToolsForProviders returns the tools each listed provider declared, grouped
// in the order the ids are given. Unknown ids contribute nothing.
func (c *Catalog) ToolsForProviders(ids ...string) []Descriptor {
	if c == nil {
		return nil
	}
	var out []Descriptor
	for _, id := range ids {
		out = append(out, c.byProvider[id]...)
	}
	return cloneDescriptors(out)
}

// Signatures renders every routed tool as a usage line.
func (c *Catalog) Signatures() []string {
	tools := c.Tools()
	out := make([]string, 0, len(tools))
	for _, desc := range tools {
		out = append(out, desc.Signature())
	}
	return out
}

// Provider returns the descriptor of a provider that took part in discovery.
func (c *Catalog) Provider(id string) (provider.Descriptor, bool) {
	if c == nil {
		return provider.Descriptor{}, false
	}
	desc, ok := c.providers[id]
	if !ok {
		return provider.Descriptor{}, false
	}
	return desc.Clone(), true
}

// ProviderIDs returns the providers in declaration order, including those
// whose discovery failed.
func (c *Catalog) ProviderIDs() []string {
	if c == nil {
		return nil
	}
	return slices.Clone(c.providerOrder)
}

// Conflicts lists every overwritten tool name in merge order.
func (c *Catalog) Conflicts() []Conflict {
	if c == nil {
		return nil
	}
	return slices.Clone(c.conflicts)
}
