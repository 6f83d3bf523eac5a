package iyzico

import "github.com/metinweb/ors-payment-service/provider"

// Register the iyzico adapter with the gateway registry
func init() {
	provider.Register("iyzico", NewAdapter)
}
