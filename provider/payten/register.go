package payten

import "github.com/metinweb/ors-payment-service/provider"

// Register the NestPay adapter under every bank tag running the platform
func init() {
	for _, tag := range []string{
		"payten", "isbank", "halkbank", "ziraat", "teb", "ing",
		"sekerbank", "akbank", "denizbank",
	} {
		provider.Register(tag, NewAdapter)
	}
}
