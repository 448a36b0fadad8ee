package uid

// Range is a closed interval of UID space explored by the discovery
// engine. Ranges form a tree: a collision pushes two child ranges and a
// split-around pushes one or two (an empty side is omitted); a child's
// parent pointer allows uids_discovered and
// branch_corrupt to bubble back up when the child is freed.
type Range struct {
	Lower, Upper UID
	Parent       *Range

	Attempt         int
	Failures        int
	UIDsDiscovered  int
	BranchCorrupt   bool
}

// NewRange constructs a range with the given bounds and parent. Parent may
// be nil for the root range.
func NewRange(lower, upper UID, parent *Range) *Range {
	return &Range{Lower: lower, Upper: upper, Parent: parent}
}

// Singleton reports whether the range has collapsed to a single UID,
// meaning it cannot be split further.
func (r *Range) Singleton() bool {
	return r.Lower == r.Upper
}

// Midpoint returns the 64-bit midpoint of the range, per the spec's
// (lower+upper)/2 rule in 64-bit UID space.
func (r *Range) Midpoint() uint64 {
	return (r.Lower.ToUint64() + r.Upper.ToUint64()) / 2
}
