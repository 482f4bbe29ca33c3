package service

import (
	"github.com/shopspring/decimal"
	"github.com/tm-acme-shop/acme-shop-order-sync/internal/models"
)

// paisePlaces is the number of fractional digits kept for INR amounts.
const paisePlaces = 2

// RoundAmount rounds an amount to whole paise, half away from zero.
func RoundAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(paisePlaces)
}

// ItemsTotal sums quantity times unit price over order lines.
func ItemsTotal(items []models.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return RoundAmount(total)
}
