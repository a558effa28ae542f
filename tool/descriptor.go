package tool

import (
	"fmt"
	"strings"
)

// Descriptor is a discovered tool: what it is called, what it does, how its
// arguments are shaped, and which provider owns it.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Schema      Schema `json:"schema"`
	ProviderID  string `json:"provider_id"`
}

// Signature renders the descriptor as a call-shaped usage line, for example
// "add(integer, integer)  # Adds two numbers.".
func (d Descriptor) Signature() string {
	line := fmt.Sprintf("%s(%s)", d.Name, strings.Join(d.Schema.ParamTypes(), ", "))
	if desc := strings.Join(strings.Fields(d.Description), " "); desc != "" {
		line += "  # " + desc
	}
	return line
}

// Clone returns a copy whose schema shares no memory with d.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.Schema = d.Schema.Clone()
	return out
}

func cloneDescriptors(in []Descriptor) []Descriptor {
	if in == nil {
		return nil
	}
	out := make([]Descriptor, len(in))
	for i, desc := range in {
		out[i] = desc.Clone()
	}
	return out
}
