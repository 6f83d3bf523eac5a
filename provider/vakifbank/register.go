package vakifbank

import "github.com/metinweb/ors-payment-service/provider"

// Register the VakıfBank VPOS adapter with the gateway registry
func init() {
	provider.Register("vakifbank", NewAdapter)
}
