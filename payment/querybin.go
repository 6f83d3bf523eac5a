package payment

import (
	"context"

	"github.com/metinweb/ors-payment-service/binlookup"
	"github.com/metinweb/ors-payment-service/store"
)

// POSInfo identifies the terminal a payment would route to.
type POSInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	BankCode string `json:"bankCode"`
	Provider string `json:"provider"`
}

// BinQueryResult is the flattened answer to a BIN query: card metadata, the
// selected terminal and the installment plans it offers.
type BinQueryResult struct {
	Bank         string              `json:"bank,omitempty"`
	BankCode     string              `json:"bankCode,omitempty"`
	CardType     string              `json:"cardType,omitempty"`
	CardFamily   string              `json:"cardFamily,omitempty"`
	Brand        string              `json:"brand,omitempty"`
	Country      string              `json:"country,omitempty"`
	POS          POSInfo             `json:"pos"`
	Installments []InstallmentOption `json:"installments"`
}

// QueryBin resolves a BIN, routes it and computes the installment options.
func (s *Service) QueryBin(ctx context.Context, company, bin string, amount float64, currency string) (*BinQueryResult, error) {
	normalized, err := binlookup.NormalizeBIN(bin)
	if err != nil {
		return nil, err
	}

	var info store.BinInfo
	if s.resolver != nil {
		if resolved, err := s.resolver.Resolve(ctx, normalized); err == nil {
			info = resolved
		}
	}

	term, err := s.SelectTerminal(company, currency, &info)
	if err != nil {
		return nil, err
	}

	return &BinQueryResult{
		Bank:       info.Bank,
		BankCode:   info.BankCode,
		CardType:   info.Type,
		CardFamily: info.Family,
		Brand:      info.Brand,
		Country:    info.Country,
		POS: POSInfo{
			ID:       term.ID,
			Name:     term.Name,
			BankCode: string(term.BankCode),
			Provider: term.Provider,
		},
		Installments: InstallmentOptions(term, amount, currency, &info),
	}, nil
}
