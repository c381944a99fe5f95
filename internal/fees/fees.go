// Package fees computes the checkout fee breakdown. Pure functions, no side
// effects; callers recompute on every relevant input change.
package fees

import (
	"github.com/shopspring/decimal"

	"github.com/raincheck/rainline/internal/model"
)

// ServiceRate is the platform service fee as a fraction of the ticket subtotal.
const ServiceRate = 0.15

// ProcessingFee is the flat per-order processing charge.
var ProcessingFee = decimal.NewFromFloat(6.00)

// Compute builds the fee breakdown for a checkout:
//
//	ticketSubtotal = unitPrice × quantity
//	serviceFee     = ticketSubtotal × ServiceRate
//	grandTotal     = ticketSubtotal + serviceFee + ProcessingFee + wagerStake
//
// Pass a zero wagerStake when no pending wager exists. A zero unit price
// yields a zero subtotal and service fee; the processing fee still applies.
func Compute(unitPrice decimal.Decimal, quantity int, wagerStake decimal.Decimal) model.FeeBreakdown {
	if quantity < 0 {
		quantity = 0
	}

	subtotal := unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
	serviceFee := subtotal.Mul(decimal.NewFromFloat(ServiceRate)).Round(2)
	grand := subtotal.Add(serviceFee).Add(ProcessingFee).Add(wagerStake).Round(2)

	return model.FeeBreakdown{
		UnitPrice:      unitPrice,
		TicketSubtotal: subtotal,
		ServiceFee:     serviceFee,
		ProcessingFee:  ProcessingFee,
		WagerStake:     wagerStake,
		GrandTotal:     grand,
	}
}
