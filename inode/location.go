package inode

// Location is a tagged sector-address sum type modeling the three
// addressing modes (direct, indirect, double-indirect) with the
// indices packed inside each variant. The unexported marker method
// closes the set so a type switch over Location can omit a default
// case with a clear conscience — any other concrete type is a compile
// error, not a runtime possibility.
type Location interface {
	location()
}

type DirectLocation struct{ Index int }

type IndirectLocation struct{ Index int }

type DoubleIndirectLocation struct{ Outer, Inner int }

// OutOfRange marks an offset beyond (D+E+E*E)*SZ — Translate never
// returns an error for this case, it returns this variant, letting
// callers decide whether out-of-range means "stop reading" or "fail
// to extend".
type OutOfRange struct{}

func (DirectLocation) location()         {}
func (IndirectLocation) location()       {}
func (DoubleIndirectLocation) location() {}
func (OutOfRange) location()             {}

// Translate maps a byte offset to its address-space location within
// layout. It is pure: it knows nothing about a particular file's
// length or which sectors are actually allocated.
func Translate(pos int64, layout Layout) Location {
	s := pos / int64(layout.SectorSize)
	d := int64(layout.Direct)
	e := int64(layout.Entries)

	switch {
	case s < d:
		return DirectLocation{Index: int(s)}
	case s < d+e:
		return IndirectLocation{Index: int(s - d)}
	case s < d+e+e*e:
		rel := s - d - e
		return DoubleIndirectLocation{Outer: int(rel / e), Inner: int(rel % e)}
	default:
		return OutOfRange{}
	}
}
