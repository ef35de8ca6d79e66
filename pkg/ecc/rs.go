// Package ecc implements the Reed-Solomon code protecting every paper block.
//
// The code is RS(255,223) over GF(256) with field polynomial 0x187, first
// consecutive root 112 and primitive element stride 11, shortened to a
// 128-byte codeword: 96 message bytes followed by 32 parity bytes. These
// parameters are fixed by the printed format and must never change.
package ecc

import (
	"errors"
	"fmt"

	"rsc.io/qr/gf256"
)

const (
	// NRoots is the number of parity symbols, and twice the error bound.
	NRoots = 32
	// MessageSize is the number of protected bytes per block.
	MessageSize = 96
	// BlockSize is the full shortened codeword length.
	BlockSize = MessageSize + NRoots

	nn    = 255
	fcr   = 112
	prim  = 11
	iprim = 116
	pad   = nn - BlockSize
	a0    = nn // log of zero in index form
)

// ErrUncorrectable is returned when a codeword has more errors than the code can repair.
var ErrUncorrectable = errors.New("ecc: uncorrectable block")

// Field is the GF(256) field of the paper code.
var Field = gf256.NewField(0x187, 2)

var (
	alphaTo [nn + 1]int
	indexOf [nn + 1]int
	genPoly [NRoots + 1]int
)

func init() {
	for i := 0; i < nn; i++ {
		alphaTo[i] = int(Field.Exp(i))
	}
	alphaTo[a0] = 0
	indexOf[0] = a0
	for x := 1; x <= nn; x++ {
		indexOf[x] = Field.Log(byte(x))
	}

	// Generator with roots alpha^(prim*(fcr+i)), kept in index form.
	var g [NRoots + 1]int
	g[0] = 1
	root := fcr * prim
	for i := 0; i < NRoots; i, root = i+1, root+prim {
		g[i+1] = 1
		for j := i; j > 0; j-- {
			if g[j] != 0 {
				g[j] = g[j-1] ^ alphaTo[modnn(indexOf[g[j]]+root)]
			} else {
				g[j] = g[j-1]
			}
		}
		g[0] = alphaTo[modnn(indexOf[g[0]]+root)]
	}
	for i := range g {
		genPoly[i] = indexOf[g[i]]
	}
}

func modnn(x int) int {
	for x >= nn {
		x -= nn
		x = (x >> 8) + (x & nn)
	}
	return x
}

// Encode computes the parity of the first MessageSize bytes of data.
func Encode(data []byte) [NRoots]byte {
	var parity [NRoots]byte
	if len(data) < MessageSize {
		buf := make([]byte, MessageSize)
		copy(buf, data)
		data = buf
	}
	for i := 0; i < MessageSize; i++ {
		feedback := indexOf[data[i]^parity[0]]
		if feedback != a0 {
			for j := 1; j < NRoots; j++ {
				parity[j] ^= byte(alphaTo[modnn(feedback+genPoly[NRoots-j])])
			}
		}
		copy(parity[:], parity[1:])
		if feedback != a0 {
			parity[NRoots-1] = byte(alphaTo[modnn(feedback+genPoly[0])])
		} else {
			parity[NRoots-1] = 0
		}
	}
	return parity
}

// Decode corrects block (BlockSize bytes, message followed by parity) in
// place. Erasures are byte indexes into block known to be unreliable; each
// one costs a single parity symbol instead of two. Decode returns the number
// of symbols it had to repair.
func Decode(block []byte, erasures []int) (int, error) {
	if len(block) != BlockSize {
		return 0, fmt.Errorf("ecc: block must be %d bytes, got %d", BlockSize, len(block))
	}
	if len(erasures) > NRoots {
		return 0, ErrUncorrectable
	}
	for _, e := range erasures {
		if e < 0 || e >= BlockSize {
			return 0, fmt.Errorf("ecc: erasure position %d out of range", e)
		}
	}

	// Syndromes: evaluate the received word at the generator roots.
	var s [NRoots]int
	for i := range s {
		s[i] = int(block[0])
	}
	for j := 1; j < BlockSize; j++ {
		for i := range s {
			if s[i] == 0 {
				s[i] = int(block[j])
			} else {
				s[i] = int(block[j]) ^ alphaTo[modnn(indexOf[s[i]]+(fcr+i)*prim)]
			}
		}
	}
	synError := 0
	for i := range s {
		synError |= s[i]
		s[i] = indexOf[s[i]]
	}
	if synError == 0 {
		return 0, nil
	}

	var lambda, b, t, omega, reg [NRoots + 1]int
	lambda[0] = 1
	noEras := len(erasures)
	if noEras > 0 {
		lambda[1] = alphaTo[modnn(prim*(nn-1-(erasures[0]+pad)))]
		for i := 1; i < noEras; i++ {
			u := modnn(prim * (nn - 1 - (erasures[i] + pad)))
			for j := i + 1; j > 0; j-- {
				tmp := indexOf[lambda[j-1]]
				if tmp != a0 {
					lambda[j] ^= alphaTo[modnn(u+tmp)]
				}
			}
		}
	}
	for i := range b {
		b[i] = indexOf[lambda[i]]
	}

	// Berlekamp-Massey for the error+erasure locator.
	el := noEras
	for r := noEras + 1; r <= NRoots; r++ {
		discr := 0
		for i := 0; i < r; i++ {
			if lambda[i] != 0 && s[r-i-1] != a0 {
				discr ^= alphaTo[modnn(indexOf[lambda[i]]+s[r-i-1])]
			}
		}
		discr = indexOf[discr]
		if discr == a0 {
			copy(b[1:], b[:NRoots])
			b[0] = a0
			continue
		}
		t[0] = lambda[0]
		for i := 0; i < NRoots; i++ {
			if b[i] != a0 {
				t[i+1] = lambda[i+1] ^ alphaTo[modnn(discr+b[i])]
			} else {
				t[i+1] = lambda[i+1]
			}
		}
		if 2*el <= r+noEras-1 {
			el = r + noEras - el
			for i := range b {
				if lambda[i] == 0 {
					b[i] = a0
				} else {
					b[i] = modnn(indexOf[lambda[i]] - discr + nn)
				}
			}
		} else {
			copy(b[1:], b[:NRoots])
			b[0] = a0
		}
		lambda = t
	}

	degLambda := 0
	for i := range lambda {
		lambda[i] = indexOf[lambda[i]]
		if lambda[i] != a0 {
			degLambda = i
		}
	}

	// Chien search for the roots of the locator.
	var root, loc [NRoots]int
	copy(reg[1:], lambda[1:])
	count := 0
	for i, k := 1, iprim-1; i <= nn; i, k = i+1, modnn(k+iprim) {
		q := 1
		for j := degLambda; j > 0; j-- {
			if reg[j] != a0 {
				reg[j] = modnn(reg[j] + j)
				q ^= alphaTo[reg[j]]
			}
		}
		if q != 0 {
			continue
		}
		root[count] = i
		loc[count] = k
		count++
		if count == degLambda {
			break
		}
	}
	if degLambda == 0 || degLambda != count {
		return 0, ErrUncorrectable
	}

	// Forney: omega(x) = s(x)*lambda(x) mod x^NRoots.
	degOmega := degLambda - 1
	for i := 0; i <= degOmega; i++ {
		tmp := 0
		for j := i; j >= 0; j-- {
			if s[i-j] != a0 && lambda[j] != a0 {
				tmp ^= alphaTo[modnn(s[i-j]+lambda[j])]
			}
		}
		omega[i] = indexOf[tmp]
	}

	var fix [NRoots]byte
	for j := count - 1; j >= 0; j-- {
		num1 := 0
		for i := degOmega; i >= 0; i-- {
			if omega[i] != a0 {
				num1 ^= alphaTo[modnn(omega[i]+i*root[j])]
			}
		}
		num2 := alphaTo[modnn(root[j]*(fcr-1)+nn)]
		den := 0
		for i := min(degLambda, NRoots-1) &^ 1; i >= 0; i -= 2 {
			if lambda[i+1] != a0 {
				den ^= alphaTo[modnn(lambda[i+1]+i*root[j])]
			}
		}
		if den == 0 {
			return 0, ErrUncorrectable
		}
		if num1 == 0 {
			continue
		}
		// A correction inside the shortening pad means the decoder locked onto a wrong codeword.
		if loc[j] < pad {
			return 0, ErrUncorrectable
		}
		fix[j] = byte(alphaTo[modnn(indexOf[num1]+indexOf[num2]+nn-indexOf[den])])
	}
	for j := 0; j < count; j++ {
		if fix[j] != 0 {
			block[loc[j]-pad] ^= fix[j]
		}
	}
	return count, nil
}
