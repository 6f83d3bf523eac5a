package garanti

import "github.com/metinweb/ors-payment-service/provider"

// Register the Garanti GVP adapter with the gateway registry
func init() {
	provider.Register("garanti", NewAdapter)
}
