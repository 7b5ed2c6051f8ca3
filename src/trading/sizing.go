package trading

import (
	"math"

	"github.com/shopspring/decimal"
)

// OrderAmount splits the available budget across the remaining position slots,
// bounds it by the per-position budget and the available budget, and rounds it
// down to a multiple of lot. It returns 0 when nothing can be spent.
func OrderAmount(available float64, remainingSlots int, perPosition, lot float64) float64 {
	if available <= 0 || remainingSlots <= 0 {
		return 0
	}
	amount := available / float64(remainingSlots)
	if perPosition > 0 {
		amount = math.Min(amount, perPosition)
	}
	amount = math.Min(amount, available)

	// float noise like 49999.99999999999 must not cost a whole lot
	d := decimal.NewFromFloat(amount).Round(8)
	if lot > 0 {
		l := decimal.NewFromFloat(lot)
		d = d.Div(l).Floor().Mul(l)
	}
	out, _ := d.Float64()
	return out
}
