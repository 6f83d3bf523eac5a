package payment

import "github.com/metinweb/ors-payment-service/store"

// InstallmentOption is one payable installment plan. Amount is the total;
// per-installment commission pricing is a planned extension and until then
// every count reports the full amount.
type InstallmentOption struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// InstallmentOptions computes the plans a terminal offers for a payment.
// Single shot is always available. Multi-installment requires a TRY credit
// card, an enabled policy and the amount above the policy floor.
func InstallmentOptions(t *store.Terminal, amount float64, currency string, bin *store.BinInfo) []InstallmentOption {
	options := []InstallmentOption{{Count: 1, Amount: amount}}

	if t == nil || !t.Installment.Enabled || currency != "try" {
		return options
	}
	if bin == nil || bin.Type != "credit" {
		return options
	}
	if amount < t.Installment.MinAmount {
		return options
	}

	max := t.Installment.MaxCount
	for i := 2; i <= max; i++ {
		options = append(options, InstallmentOption{Count: i, Amount: amount})
	}
	return options
}
