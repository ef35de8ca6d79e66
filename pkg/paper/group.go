package paper

// GroupBuilder accumulates the recovery block for a run of data blocks.
// The recovery payload is 0xFF XOR every member payload, and its address is
// the offset of the first member with the group size in the top four bits.
type GroupBuilder struct {
	ngroup int
	first  uint32
	count  int
	acc    [NData]byte
}

func NewGroupBuilder(ngroup int) *GroupBuilder {
	g := &GroupBuilder{ngroup: ngroup}
	g.Reset()
	return g
}

// Reset starts a new group.
func (g *GroupBuilder) Reset() {
	g.count = 0
	g.first = 0
	for i := range g.acc {
		g.acc[i] = 0xFF
	}
}

// Add folds a data block into the group.
func (g *GroupBuilder) Add(b *Block) {
	if g.count == 0 {
		g.first = b.Offset()
	}
	for i := range g.acc {
		g.acc[i] ^= b.Data[i]
	}
	g.count++
}

// Len is the number of blocks added since the last reset.
func (g *GroupBuilder) Len() int { return g.count }

// Full reports whether ngroup blocks have been added.
func (g *GroupBuilder) Full() bool { return g.count >= g.ngroup }

// Recovery returns the sealed recovery block for the blocks added so far.
func (g *GroupBuilder) Recovery() Block {
	b := Block{Addr: g.first ^ uint32(g.ngroup)<<groupShift, Data: g.acc}
	b.Seal()
	return b
}

// Recover rebuilds the single missing member of a group from the recovery
// payload and the payloads of all other members. Members past the end of
// the stream count as zero and can be left out.
func Recover(recovery [NData]byte, siblings ...[NData]byte) [NData]byte {
	out := recovery
	for i := range out {
		out[i] ^= 0xFF
	}
	for _, s := range siblings {
		for i := range out {
			out[i] ^= s[i]
		}
	}
	return out
}
