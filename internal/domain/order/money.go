package order

import "github.com/shopspring/decimal"

// DefaultTaxRate is the flat sales tax applied to taxable items and shipping
var DefaultTaxRate = decimal.RequireFromString("0.0985")

// Totals holds the monetary breakdown of an order
type Totals struct {
	Subtotal      decimal.Decimal
	ShippingCost  decimal.Decimal
	TaxableAmount decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
	TaxRate       decimal.Decimal
}

// IsWholeCents reports whether d has at most two decimal places. Amounts are
// stored with cent precision, so anything finer would change on the way to
// the database.
func IsWholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(2))
}

// CalculateTax rounds taxable*rate to cents, half to even
func CalculateTax(taxable, rate decimal.Decimal) decimal.Decimal {
	return taxable.Mul(rate).RoundBank(2)
}

// CalculateTotals computes subtotal, tax and total for the given lines.
// Shipping is always taxable.
func CalculateTotals(items []ItemInput, shippingCost, taxRate decimal.Decimal) Totals {
	subtotal := decimal.Zero
	taxable := decimal.Zero
	for _, item := range items {
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(line)
		if item.IsTaxable {
			taxable = taxable.Add(line)
		}
	}
	taxable = taxable.Add(shippingCost)
	tax := CalculateTax(taxable, taxRate)

	return Totals{
		Subtotal:      subtotal,
		ShippingCost:  shippingCost,
		TaxableAmount: taxable,
		Tax:           tax,
		Total:         subtotal.Add(shippingCost).Add(tax),
		TaxRate:       taxRate,
	}
}
