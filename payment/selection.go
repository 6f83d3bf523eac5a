package payment

import (
	"strings"

	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/store"
)

// SelectTerminal picks the acquirer terminal for a payment. Candidates are
// the company's active terminals supporting the currency, highest priority
// first; the rule chain is:
//
//  1. on-us: the BIN's issuing bank also acquires
//  2. card family: the terminal supports the card's installment family
//  3. the company default terminal for the currency
//  4. highest priority
func (s *Service) SelectTerminal(company, currency string, bin *store.BinInfo) (*store.Terminal, error) {
	candidates, err := s.terminals.FindForSelection(company, currency)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, payerr.Newf(payerr.KindNotFound, "no suitable terminal for %s/%s", company, currency)
	}

	if bin != nil && bin.BankCode != "" {
		for _, t := range candidates {
			if string(t.BankCode) == bin.BankCode {
				return t, nil
			}
		}
	}

	if bin != nil && bin.Family != "" {
		for _, t := range candidates {
			if supportsFamily(t, bin.Family) {
				return t, nil
			}
		}
	}

	for _, t := range candidates {
		if t.IsDefaultFor(currency) {
			return t, nil
		}
	}

	return candidates[0], nil
}

func supportsFamily(t *store.Terminal, family string) bool {
	for _, f := range t.SupportedCardFamilies {
		if strings.EqualFold(f, family) {
			return true
		}
	}
	return false
}
