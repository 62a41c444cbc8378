package circuit

import (
	"math"

	"github.com/shopspring/decimal"
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// floorCents 向下取整到两位小数，保证裁剪结果不超过上限。
func floorCents(val decimal.Decimal) decimal.Decimal {
	return val.RoundFloor(2)
}

// percentOf 返回 total * pct / 100。
func percentOf(total, pct float64) decimal.Decimal {
	return decFromFloat(total).Mul(decFromFloat(pct)).Div(decimal.NewFromInt(100))
}

// lossPercent 返回 (start - current) / start * 100；start <= 0 时视为无亏损。
func lossPercent(start, current float64) decimal.Decimal {
	s := decFromFloat(start)
	if !s.IsPositive() {
		return decimal.Zero
	}
	return s.Sub(decFromFloat(current)).Div(s).Mul(decimal.NewFromInt(100))
}
