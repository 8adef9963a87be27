package model

import (
	"fmt"
	"math/big"
)

// AppendVarint encodes n (non-negative) as an unsigned LEB128 varint and
// appends it to dst. It encodes CurrencyValue.native (spec.md §3), though
// neither store calls it: BoltStore persists rows as JSON. Unlike the
// teacher's fixed-width
// CompactSize tags, native token amounts can exceed 64 bits (ERC-20
// supply caps), so the tag-byte scheme is generalized to an open-ended
// base-128 encoding in the same "append to dst" style as
// consensus.AppendCompactSize.
func AppendVarint(dst []byte, n *big.Int) []byte {
	if n == nil || n.Sign() == 0 {
		return append(dst, 0)
	}
	if n.Sign() < 0 {
		panic("model: AppendVarint: negative value")
	}
	v := new(big.Int).Set(n)
	mask := big.NewInt(0x7f)
	for v.Sign() != 0 {
		b := new(big.Int).And(v, mask).Uint64()
		v.Rsh(v, 7)
		if v.Sign() != 0 {
			b |= 0x80
		}
		dst = append(dst, byte(b))
	}
	return dst
}

// DecodeVarint decodes one varint from the front of buf, returning the
// value and the number of bytes consumed.
func DecodeVarint(buf []byte) (*big.Int, int, error) {
	v := new(big.Int)
	shift := uint(0)
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		chunk := new(big.Int).Lsh(big.NewInt(int64(b&0x7f)), shift)
		v.Or(v, chunk)
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
		if shift > 2048 {
			return nil, 0, fmt.Errorf("model: varint exceeds 2048 bits")
		}
	}
	return nil, 0, fmt.Errorf("model: truncated varint")
}
