package dump

// Seq is a position in a dump stream. Journals assign consecutive sequence
// numbers starting at 1; 0 means "before the first entry".
type Seq uint64

const Zero Seq = 0

//nolint:gochecknoglobals // It's a helper.
var SelectFromBeginning = Selector{From: 0}

// Selector bounds a read. From is inclusive; To is inclusive when non-zero
// and unbounded when zero.
type Selector struct {
	From Seq
	To   Seq
}

// SelectAfter selects everything recorded after the given sequence number.
func SelectAfter(seq Seq) Selector {
	return Selector{From: seq + 1}
}
