// Package orspayment is a multi-acquirer virtual POS orchestration service
// for the Turkish card-payment market. It fronts the bank-specific VPOS
// protocols behind one HTTP API: a merchant posts a card once, the service
// picks the right terminal from the card's BIN, drives the acquirer's 3-D
// Secure flow, and hands back a single normalized transaction record.
//
// # Overview
//
// Every Turkish acquirer speaks its own wire contract: different hash
// algorithms, field orders, character encodings and callback shapes. The
// service hides all of that behind a provider adapter contract, so adding an
// acquirer is one package implementing the adapter interface and registering
// itself under a tag.
//
// The payment flow follows this pattern:
//
//	merchant ──POST /api/payment/pay──► orchestrator ──initialize──► acquirer
//	cardholder ◄──GET /payment/{id}/form── hosted 3-D page ──► issuer ACS
//	acquirer ──POST /payment/{id}/callback──► orchestrator ──provision──► done
//
// # Supported acquirers
//
//   - Garanti BBVA (GVP v512)
//   - Payten/NestPay family: İş Bankası, Halkbank, Ziraat, TEB, ING,
//     Şekerbank, Akbank, Denizbank
//   - Yapı Kredi (POSNET)
//   - VakıfBank (VPOS v3)
//   - QNB Finansbank (PayFor)
//   - iyzico (aggregator)
//
// # Quick start
//
//	st, err := store.Open("payments.db", os.Getenv("ENCRYPT_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc := payment.New(payment.Config{
//	    Store:        st,
//	    CallbackBase: "https://pay.example.com",
//	})
//	http.ListenAndServe(":7043", router.New(svc, config.GetAppConfig()))
//
// Adapter packages register themselves on import; the router blank-imports
// all of them. Card numbers and terminal credentials are AES-encrypted at
// rest, CVVs are wiped the moment a payment succeeds, and every
// provider-facing request and response is kept in the transaction's
// append-only log with the PAN masked.
package orspayment
