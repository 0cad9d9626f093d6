package sensor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNameConflict is returned when two labels clean to the same identifier.
var ErrNameConflict = errors.New("sensor name conflict")

// Registry keeps handles in configuration order, keyed by clean name.
type Registry struct {
	order  []*Handle
	byName map[string]*Handle
	folded map[string]string // lowercased clean name -> raw label
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Handle),
		folded: make(map[string]string),
	}
}

// Add appends h. Labels that differ only in case or diacritics are rejected.
func (r *Registry) Add(h *Handle) error {
	key := strings.ToLower(h.Name)
	if other, ok := r.folded[key]; ok {
		return fmt.Errorf("%w: %q and %q both normalize to %q", ErrNameConflict, other, h.NameRaw, h.Name)
	}
	r.folded[key] = h.NameRaw
	r.byName[h.Name] = h
	r.order = append(r.order, h)
	return nil
}

// Get looks up a handle by clean name
func (r *Registry) Get(name string) (*Handle, bool) {
	h, ok := r.byName[name]
	return h, ok
}

// All returns handles in configuration order.
func (r *Registry) All() []*Handle {
	out := make([]*Handle, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of handles.
func (r *Registry) Len() int {
	return len(r.order)
}
