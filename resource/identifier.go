// Package resource defines the ResourceIdentifier value, the (type, id) pair
// naming one live shared-state instance, and its canonical string form.
package resource

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidResourceIdentifier is returned when a canonical string does not
// parse to exactly one resource type and one resource id.
var ErrInvalidResourceIdentifier = errors.New("invalid resource identifier")

// Identifier is the (resourceType, resourceId) pair naming one live
// shared-state instance. The canonical string form is "type:id".
type Identifier struct {
	Type string
	ID   string
}

// New builds an Identifier from its parts.
func New(resourceType, resourceID string) Identifier {
	return Identifier{Type: resourceType, ID: resourceID}
}

// String renders the canonical "type:id" form.
func (i Identifier) String() string {
	return i.Type + ":" + i.ID
}

// Topic renders the "rid:<canonical>" subscription-registry key used by
// Master Resource Connection's topic registries.
func (i Identifier) Topic() string {
	return "rid:" + i.String()
}

// Parse reverses String: it splits on the first ":" and rejects inputs with
// no colon, or with an empty type or id on either side.
func Parse(s string) (Identifier, error) {
	idx := strings.IndexByte(s, ':')
	if idx <= 0 || idx == len(s)-1 {
		return Identifier{}, errors.Wrapf(ErrInvalidResourceIdentifier, "got %q", s)
	}
	resourceType, resourceID := s[:idx], s[idx+1:]
	return Identifier{Type: resourceType, ID: resourceID}, nil
}
