package paper

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupRecovery(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for ngroup := NGroupMin; ngroup <= NGroupMax; ngroup++ {
		g := NewGroupBuilder(ngroup)
		base := uint32(7 * NData)
		members := make([]Block, ngroup)
		for i := range members {
			members[i] = NewDataBlock(base+uint32(i*NData), makePayload(rng, NData))
			g.Add(&members[i])
		}
		require.True(t, g.Full())
		rec := g.Recovery()
		assert.Equal(t, KindRecovery, rec.Kind())
		assert.Equal(t, ngroup, rec.GroupSize())
		assert.Equal(t, base, rec.Offset())

		raw := rec.Bytes()
		_, _, err := Validate(raw[:])
		require.NoError(t, err)

		// Drop each member in turn and rebuild it from the rest.
		for miss := range members {
			var others [][NData]byte
			for i, m := range members {
				if i != miss {
					others = append(others, m.Data)
				}
			}
			assert.Equal(t, members[miss].Data, Recover(rec.Data, others...), "group %d member %d", ngroup, miss)
		}

		// Or drop the recovery block and rebuild it from the members.
		fresh := NewGroupBuilder(ngroup)
		for i := range members {
			fresh.Add(&members[i])
		}
		assert.Equal(t, rec, fresh.Recovery())
	}
}

func TestGroupPartialTail(t *testing.T) {
	// The last group of a stream may be short, missing members are zeros.
	g := NewGroupBuilder(5)
	a := NewDataBlock(0, []byte("alpha"))
	b := NewDataBlock(NData, []byte("beta"))
	g.Add(&a)
	g.Add(&b)
	assert.Equal(t, 2, g.Len())
	assert.False(t, g.Full())
	rec := g.Recovery()
	assert.Equal(t, a.Data, Recover(rec.Data, b.Data))

	g.Reset()
	assert.Equal(t, 0, g.Len())
}

func TestDots(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	b := NewDataBlock(NData, makePayload(rng, NData))
	d := b.Dots()
	assert.Equal(t, b.Bytes(), d.Raw())

	// Address bit 0 is the top-left dot, row 0 is masked with 0x55555555.
	zero := Block{}
	zd := zero.Dots()
	assert.True(t, zd.Dot(0, 0))
	assert.False(t, zd.Dot(1, 0))
	assert.False(t, zd.Dot(0, 1))
	assert.True(t, zd.Dot(1, 1))

	assert.Equal(t, d, d.Transform(0))
	rot := d.Transform(3)
	assert.Equal(t, d, rot.Transform(3))
	tr := d.Transform(4)
	assert.Equal(t, d, tr.Transform(4))

	seen := map[Dots]bool{}
	for tf := 0; tf < 8; tf++ {
		seen[d.Transform(tf)] = true
	}
	assert.Len(t, seen, 8)
}
