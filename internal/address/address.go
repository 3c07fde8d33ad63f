// Package address models hierarchical resource addresses and the wildcard
// patterns used to subscribe to them.
//
// An address is an ordered list of key=value segments, rendered as
// "/subsystem=logging/file-handler=notifications". Either side of a segment
// may be the wildcard "*" when the address is used as a pattern.
package address

import (
	"strings"

	"github.com/juju/errors"
)

// Wildcard matches any key or value at its position.
const Wildcard = "*"

// Segment is one key=value element of a Path.
type Segment struct {
	Key   string
	Value string
}

// IsWildcard reports whether either side of the segment is the wildcard.
func (s Segment) IsWildcard() bool {
	return s.Key == Wildcard || s.Value == Wildcard
}

// String renders the segment as key=value.
func (s Segment) String() string {
	return s.Key + "=" + s.Value
}

// Path is an immutable ordered sequence of segments. The zero value is the
// root address.
type Path struct {
	segs []Segment
}

// AnyAddress is the root address. Used as a pattern it matches every source
// regardless of depth; used as a source it denotes the root resource.
var AnyAddress = Path{}

// New builds a Path from alternating key/value strings.
func New(pairs ...string) (Path, error) {
	if len(pairs)%2 != 0 {
		return Path{}, errors.NotValidf("address with odd number of key/value parts %q", pairs)
	}
	segs := make([]Segment, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		segs = append(segs, Segment{Key: pairs[i], Value: pairs[i+1]})
	}
	return FromSegments(segs...)
}

// FromSegments builds a Path from segments, validating each one.
func FromSegments(segs ...Segment) (Path, error) {
	out := make([]Segment, len(segs))
	for i, s := range segs {
		if err := validateSegment(s); err != nil {
			return Path{}, errors.Trace(err)
		}
		out[i] = s
	}
	return Path{segs: out}, nil
}

// MustNew is like New but panics on error. Intended for constants and tests.
func MustNew(pairs ...string) Path {
	p, err := New(pairs...)
	if err != nil {
		panic(err)
	}
	return p
}

// Parse reads the canonical "/k=v/k=v" form. "/" and "" are the root.
func Parse(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "/" {
		return Path{}, nil
	}
	if !strings.HasPrefix(s, "/") {
		return Path{}, errors.NotValidf("address %q (must start with /)", s)
	}
	parts := strings.Split(strings.TrimPrefix(s, "/"), "/")
	segs := make([]Segment, 0, len(parts))
	for _, part := range parts {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return Path{}, errors.NotValidf("address %q segment %q", s, part)
		}
		segs = append(segs, Segment{Key: k, Value: v})
	}
	p, err := FromSegments(segs...)
	if err != nil {
		return Path{}, errors.Annotatef(err, "parsing %q", s)
	}
	return p, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

func validateSegment(s Segment) error {
	if s.Key == "" {
		return errors.NotValidf("segment %q with empty key", s.String())
	}
	if s.Value == "" {
		return errors.NotValidf("segment %q with empty value", s.String())
	}
	if strings.ContainsAny(s.Key, "/=") || strings.ContainsAny(s.Value, "/=") {
		return errors.NotValidf("segment %q containing a reserved character", s.String())
	}
	return nil
}

// Len returns the depth of the address.
func (p Path) Len() int { return len(p.segs) }

// IsRoot reports whether p has no segments.
func (p Path) IsRoot() bool { return len(p.segs) == 0 }

// Segment returns the i-th segment.
func (p Path) Segment(i int) Segment { return p.segs[i] }

// Segments returns a copy of the segments.
func (p Path) Segments() []Segment {
	out := make([]Segment, len(p.segs))
	copy(out, p.segs)
	return out
}

// IsWildcard reports whether any segment contains a wildcard.
func (p Path) IsWildcard() bool {
	for _, s := range p.segs {
		if s.IsWildcard() {
			return true
		}
	}
	return false
}

// Append returns a new Path with the given key/value added.
func (p Path) Append(key, value string) (Path, error) {
	seg := Segment{Key: key, Value: value}
	if err := validateSegment(seg); err != nil {
		return Path{}, errors.Trace(err)
	}
	out := make([]Segment, len(p.segs), len(p.segs)+1)
	copy(out, p.segs)
	return Path{segs: append(out, seg)}, nil
}

// Parent returns the address one level up. The root is its own parent.
func (p Path) Parent() Path {
	if len(p.segs) == 0 {
		return p
	}
	return Path{segs: p.segs[: len(p.segs)-1 : len(p.segs)-1]}
}

// Last returns the final segment and false for the root.
func (p Path) Last() (Segment, bool) {
	if len(p.segs) == 0 {
		return Segment{}, false
	}
	return p.segs[len(p.segs)-1], true
}

// Equal reports segment-wise equality.
func (p Path) Equal(o Path) bool {
	if len(p.segs) != len(o.segs) {
		return false
	}
	for i := range p.segs {
		if p.segs[i] != o.segs[i] {
			return false
		}
	}
	return true
}

// String renders the canonical form.
func (p Path) String() string {
	if len(p.segs) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, s := range p.segs {
		b.WriteByte('/')
		b.WriteString(s.Key)
		b.WriteByte('=')
		b.WriteString(s.Value)
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Path) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Matches reports whether the concrete address is selected by pattern.
// AnyAddress selects everything. Otherwise depths must be equal and every
// pattern segment must equal the concrete one or be wildcarded on the
// differing side.
func Matches(concrete, pattern Path) bool {
	if pattern.IsRoot() {
		return true
	}
	if concrete.Len() != pattern.Len() {
		return false
	}
	for i, ps := range pattern.segs {
		cs := concrete.segs[i]
		if ps.Key != Wildcard && ps.Key != cs.Key {
			return false
		}
		if ps.Value != Wildcard && ps.Value != cs.Value {
			return false
		}
	}
	return true
}
