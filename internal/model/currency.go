package model

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// CurrencyValue pairs a native-unit amount with its fiat equivalents, one
// per configured fiat currency (spec.md §3). Native is an unbounded
// integer since token amounts can exceed 64 bits (BoltStore persists it
// inside JSON-encoded rows); Fiat is float32 because that is the wire
// width the transformed keyspace persists it as.
type CurrencyValue struct {
	Native *big.Int
	Fiat   []float32
}

// ZeroCurrencyValue returns a CurrencyValue of zero native units with a
// zeroed fiat vector of the given width.
func ZeroCurrencyValue(fiatWidth int) CurrencyValue {
	return CurrencyValue{Native: big.NewInt(0), Fiat: make([]float32, fiatWidth)}
}

// Add returns a new CurrencyValue that is the element-wise sum of a and b.
// Both must carry the same fiat vector width; callers own that invariant
// (the batch-scoped rate cache and aggregator always build vectors of the
// keyspace's configured width).
func (a CurrencyValue) Add(b CurrencyValue) CurrencyValue {
	out := CurrencyValue{
		Native: new(big.Int).Add(zeroIfNil(a.Native), zeroIfNil(b.Native)),
		Fiat:   make([]float32, len(a.Fiat)),
	}
	for i := range out.Fiat {
		var bv float32
		if i < len(b.Fiat) {
			bv = b.Fiat[i]
		}
		out.Fiat[i] = a.Fiat[i] + bv
	}
	return out
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// ApplyRate computes the fiat vector for a native amount given a
// per-currency rate vector (rate[i] = fiat units per whole native coin)
// and the native token's decimal places. Computation is carried out in
// decimal.Decimal to avoid the float accumulation drift a naive
// float64 multiply/divide chain would introduce across millions of
// rows; only the final per-currency value is rounded down to float32,
// matching the wire width of the transformed fiat_vector column.
func ApplyRate(native *big.Int, decimals int, rates []float32) []float32 {
	out := make([]float32, len(rates))
	if native == nil {
		return out
	}
	nativeDec := decimal.NewFromBigInt(native, 0)
	scale := decimal.NewFromInt(10).Pow(decimal.NewFromInt(int64(decimals)))
	for i, r := range rates {
		rateDec := decimal.NewFromFloat32(r)
		v := nativeDec.Mul(rateDec).Div(scale)
		f64, _ := v.Float64()
		out[i] = float32(f64)
	}
	return out
}
