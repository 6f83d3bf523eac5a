package qnb

import "github.com/metinweb/ors-payment-service/provider"

// Register the QNB Finansbank PayFor adapter with the gateway registry
func init() {
	provider.Register("qnb", NewAdapter)
}
