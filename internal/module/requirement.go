package module

import (
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
)

// Requirement is a single external package dependency declared by a module
// manifest, such as "markdown" or "markdown >=1.2.0 <2.0.0".
type Requirement struct {
	// Name is the bare package name.
	Name string

	// Spec is the raw version constraint, empty when any version satisfies.
	Spec string

	rng semver.Range
}

// ParseRequirement parses a dependency specifier of the form
// "name" or "name <range>". The range uses semver comparator syntax.
func ParseRequirement(s string) (Requirement, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Requirement{}, fmt.Errorf("%w: empty specifier", ErrInvalidRequirement)
	}

	name := s
	spec := ""
	if i := strings.IndexAny(s, " <>=!"); i >= 0 {
		name = strings.TrimSpace(s[:i])
		spec = strings.TrimSpace(s[i:])
	}
	if name == "" {
		return Requirement{}, fmt.Errorf("%w: missing package name in %q", ErrInvalidRequirement, s)
	}

	req := Requirement{Name: name, Spec: spec}
	if spec != "" {
		rng, err := semver.ParseRange(normalizeRange(spec))
		if err != nil {
			return Requirement{}, fmt.Errorf("%w: %q: %v", ErrInvalidRequirement, s, err)
		}
		req.rng = rng
	}
	return req, nil
}

// ParseRequirements parses a manifest dependency list.
func ParseRequirements(specs []string) ([]Requirement, error) {
	out := make([]Requirement, 0, len(specs))
	for _, s := range specs {
		req, err := ParseRequirement(s)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// Matches reports whether an installed version satisfies the requirement.
// A requirement without a version constraint matches any version.
func (r Requirement) Matches(v semver.Version) bool {
	if r.rng == nil {
		return true
	}
	return r.rng(v)
}

func (r Requirement) String() string {
	if r.Spec == "" {
		return r.Name
	}
	return r.Name + " " + r.Spec
}

// normalizeRange pads partial versions so "  >=1.0" parses as ">=1.0.0".
func normalizeRange(spec string) string {
	fields := strings.Fields(spec)
	for i, f := range fields {
		op := ""
		ver := f
		for len(ver) > 0 && (ver[0] == '<' || ver[0] == '>' || ver[0] == '=' || ver[0] == '!') {
			op += string(ver[0])
			ver = ver[1:]
		}
		if ver == "" || strings.ContainsAny(ver, "xX*") {
			continue
		}
		for strings.Count(ver, ".") < 2 {
			ver += ".0"
		}
		fields[i] = op + ver
	}
	return strings.Join(fields, " ")
}
