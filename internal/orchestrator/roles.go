package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/cascade/pkg/models"
)

// ErrRoleNotFound is matched by errors returned from RoleBook.Lookup.
var ErrRoleNotFound = errors.New("role not found")

// RoleNotFoundError names a role that matched nothing.
type RoleNotFoundError struct {
	Name string
	// Similar lists role names that overlap Name by substring.
	Similar []string
}

func (e *RoleNotFoundError) Error() string {
	msg := fmt.Sprintf("role '%s' not found", e.Name)
	if len(e.Similar) > 0 {
		msg += fmt.Sprintf(" (similar roles: %s)", strings.Join(e.Similar, ", "))
	}
	return msg
}

// Is reports whether target is ErrRoleNotFound.
func (e *RoleNotFoundError) Is(target error) bool {
	return target == ErrRoleNotFound
}

// RoleBook resolves a node's assigned role to its definition.
//
// Lookup tries the role key first and then the case-insensitive name. When
// fuzzy matching is enabled, a role whose name contains the requested name
// or is contained in it also matches; the first such role wins. Otherwise
// these overlaps are only reported in the error.
type RoleBook struct {
	roles  []models.RoleDefinition
	byKey  map[string]int
	byName map[string]int
	fuzzy  bool
}

// NewRoleBook indexes roles. Later roles never replace earlier ones with the
// same key or name.
func NewRoleBook(roles []models.RoleDefinition, fuzzy bool) *RoleBook {
	b := &RoleBook{
		roles:  make([]models.RoleDefinition, 0, len(roles)),
		byKey:  make(map[string]int, len(roles)),
		byName: make(map[string]int, len(roles)),
		fuzzy:  fuzzy,
	}
	for _, r := range roles {
		key := r.LookupKey()
		name := strings.ToLower(strings.TrimSpace(r.RoleName))
		if _, dup := b.byKey[key]; dup {
			continue
		}
		r.Key = key
		b.byKey[key] = len(b.roles)
		if _, dup := b.byName[name]; !dup {
			b.byName[name] = len(b.roles)
		}
		b.roles = append(b.roles, r)
	}
	return b
}

// Len returns the number of roles.
func (b *RoleBook) Len() int {
	if b == nil {
		return 0
	}
	return len(b.roles)
}

// Names returns role names in definition order.
func (b *RoleBook) Names() []string {
	if b == nil {
		return []string{}
	}
	names := make([]string, 0, len(b.roles))
	for _, r := range b.roles {
		names = append(names, r.RoleName)
	}
	return names
}

// Roles returns a copy of the definitions.
func (b *RoleBook) Roles() []models.RoleDefinition {
	if b == nil {
		return nil
	}
	return append([]models.RoleDefinition(nil), b.roles...)
}

// Lookup resolves name to a role definition.
func (b *RoleBook) Lookup(name string) (models.RoleDefinition, error) {
	if b != nil {
		if i, ok := b.byKey[models.RoleKey(name)]; ok && name != "" {
			return b.roles[i], nil
		}
		if i, ok := b.byName[strings.ToLower(strings.TrimSpace(name))]; ok && name != "" {
			return b.roles[i], nil
		}
	}

	similar := b.similar(name)
	if b != nil && b.fuzzy && len(similar) > 0 {
		i := b.byName[strings.ToLower(strings.TrimSpace(similar[0]))]
		return b.roles[i], nil
	}
	return models.RoleDefinition{}, &RoleNotFoundError{Name: name, Similar: similar}
}

// similar returns role names overlapping name in either direction.
func (b *RoleBook) similar(name string) []string {
	want := strings.ToLower(strings.TrimSpace(name))
	if b == nil || want == "" {
		return nil
	}
	var out []string
	for _, r := range b.roles {
		have := strings.ToLower(strings.TrimSpace(r.RoleName))
		if have == "" {
			continue
		}
		if strings.Contains(have, want) || strings.Contains(want, have) {
			out = append(out, r.RoleName)
		}
	}
	return out
}
