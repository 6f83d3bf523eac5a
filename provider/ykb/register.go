package ykb

import "github.com/metinweb/ors-payment-service/provider"

// Register the POSNET adapter with the gateway registry
func init() {
	provider.Register("ykb", NewAdapter)
}
