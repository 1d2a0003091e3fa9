package engine

// Ref identifies the position an operator command targets. The zero value is
// an unqualified reference that must resolve to exactly one candidate.
type Ref struct {
	id       int64
	explicit bool
}

// ByID returns a reference to a specific position id.
func ByID(id int64) Ref { return Ref{id: id, explicit: true} }

// ID returns the referenced id and whether one was given.
func (r Ref) ID() (int64, bool) { return r.id, r.explicit }

// ResolutionKind is the outcome of resolving an unqualified reference.
type ResolutionKind int

const (
	ResolvedNone ResolutionKind = iota
	ResolvedUnique
	ResolvedMany
)

// Resolution is the typed result of looking up the positions in one status:
// exactly one (ID), none, or several (Candidates, ascending).
type Resolution struct {
	Kind       ResolutionKind
	ID         int64
	Candidates []int64
}
