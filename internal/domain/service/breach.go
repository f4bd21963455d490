package service

import "xdsl/internal/domain/model"

// IsBreached reports whether price sits on the unfavourable side of floor.
func IsBreached(long bool, price, floor float64) bool {
	if long {
		return price <= floor
	}
	return price >= floor
}

// DecayBreaches applies the non-breach policy to a count.
func DecayBreaches(count int, mode model.BreachDecay) int {
	if mode == model.BreachDecaySoft {
		if count > 0 {
			return count - 1
		}
		return 0
	}
	return 0
}

// ApplyBreach updates the hysteresis counter for this tick.
func ApplyBreach(rec *model.Record, price, floor float64) bool {
	breached := IsBreached(rec.IsLong(), price, floor)
	if breached {
		rec.CurrentBreachCount++
	} else {
		rec.CurrentBreachCount = DecayBreaches(rec.CurrentBreachCount, rec.BreachDecay)
	}
	return breached
}
