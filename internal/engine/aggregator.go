package engine

import (
	"orderbook_go/internal/domain"

	"github.com/shopspring/decimal"
)

// PriceKey is the canonical grouping key of a price.
// decimal.String trims trailing zeros, so 100, 100.0 and "100.00" share a key.
func PriceKey(price decimal.Decimal) string {
	return price.String()
}

// GroupByPrice folds a best-first sorted side into price levels.
// Levels appear in the order their key is first seen, so the input sort is
// preserved; quantities are summed exactly.
func GroupByPrice(orders []domain.Order) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(orders))
	index := make(map[string]int, len(orders))

	for _, o := range orders {
		key := PriceKey(o.Price)
		i, ok := index[key]
		if !ok {
			i = len(levels)
			index[key] = i
			levels = append(levels, domain.PriceLevel{
				Price:         o.Price,
				TotalQuantity: decimal.Zero,
			})
		}
		lvl := &levels[i]
		lvl.TotalQuantity = lvl.TotalQuantity.Add(o.Quantity)
		lvl.Orders = append(lvl.Orders, o)
	}

	return levels
}

// TotalVolume sums the quantity of all levels.
func TotalVolume(levels []domain.PriceLevel) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		total = total.Add(l.TotalQuantity)
	}
	return total
}
