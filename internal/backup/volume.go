package backup

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// Capacity holds the live size figures of a mounted filesystem, in bytes.
type Capacity struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

// Volume describes one storage device mounted under the mount base directory.
// Volumes are rebuilt on every enumeration pass; only the identity and role
// marker files on the volume itself outlive a pass.
type Volume struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	MountPoint    string   `json:"mount_point"`
	FSType        string   `json:"fs_type,omitempty"`
	Capacity      Capacity `json:"capacity"`
	IsSource      bool     `json:"is_source"`
	IsDestination bool     `json:"is_destination"`
	Connected     bool     `json:"connected"`

	// Error is set when the volume could not be fully inspected during the
	// pass (stale mount, unreadable identity). The volume is still listed.
	Error string `json:"error,omitempty"`
}

// Healthy reports whether the volume was inspected without errors.
func (v *Volume) Healthy() bool {
	return v.Error == ""
}

// RoleAssignment is a request to change volume roles, by volume name.
// A name may appear in at most one list. Volumes not named are untouched.
type RoleAssignment struct {
	Destinations []string `json:"destinations" validate:"dive,required,excludesall=/,ne=.,ne=.."`
	Sources      []string `json:"sources" validate:"dive,required,excludesall=/,ne=.,ne=.."`
	Clear        []string `json:"clear" validate:"dive,required,excludesall=/,ne=.,ne=.."`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize returns a copy of the assignment with every name in NFC form,
// matching how volume names are reported by the registry.
func (a RoleAssignment) Normalize() RoleAssignment {
	return RoleAssignment{
		Destinations: normalizeNames(a.Destinations),
		Sources:      normalizeNames(a.Sources),
		Clear:        normalizeNames(a.Clear),
	}
}

// Validate checks the shape of the assignment. It does not check that the
// named volumes exist; the registry does that before touching any marker.
func (a RoleAssignment) Validate() error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAssignment, err)
	}

	seen := make(map[string]string)
	check := func(role string, names []string) error {
		for _, name := range names {
			if prev, ok := seen[name]; ok {
				return fmt.Errorf("%w: volume %q listed as both %s and %s", ErrInvalidAssignment, name, prev, role)
			}
			seen[name] = role
		}
		return nil
	}
	if err := check("destination", a.Destinations); err != nil {
		return err
	}
	if err := check("source", a.Sources); err != nil {
		return err
	}
	return check("clear", a.Clear)
}

// Names returns every volume name in the assignment.
func (a RoleAssignment) Names() []string {
	names := make([]string, 0, len(a.Destinations)+len(a.Sources)+len(a.Clear))
	names = append(names, a.Destinations...)
	names = append(names, a.Sources...)
	return append(names, a.Clear...)
}

func normalizeNames(names []string) []string {
	if names == nil {
		return nil
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = norm.NFC.String(n)
	}
	return out
}
