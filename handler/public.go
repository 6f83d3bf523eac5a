package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/metinweb/ors-payment-service/payerr"
	"github.com/metinweb/ors-payment-service/payment"
	"github.com/metinweb/ors-payment-service/store"
)

// PublicHandler serves the unauthenticated cardholder surface: the hosted
// 3-D form and the bank return callback.
type PublicHandler struct {
	service *payment.Service
}

// NewPublicHandler creates a public handler.
func NewPublicHandler(service *payment.Service) *PublicHandler {
	return &PublicHandler{service: service}
}

// PaymentForm handles GET /payment/{id}/form: the auto-submit HTML that
// sends the cardholder to the bank's 3-D page.
func (h *PublicHandler) PaymentForm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	formHTML, err := h.service.GetPaymentForm(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErrorPage(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, formHTML)
}

// Callback handles POST /payment/{id}/callback: the bank posts the 3-D
// outcome here with the cardholder's browser. The response is an HTML page
// that hands the result to the embedding merchant page.
func (h *PublicHandler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := r.ParseForm(); err != nil {
		writeErrorPage(w, payerr.Wrap(payerr.KindValidation, "malformed callback", err))
		return
	}
	params := make(map[string]string, len(r.Form))
	for key := range r.Form {
		params[key] = r.Form.Get(key)
	}

	view, err := h.service.ProcessCallback(ctx, chi.URLParam(r, "id"), params)
	if err != nil {
		writeErrorPage(w, err)
		return
	}
	writeResultPage(w, view)
}

// writeResultPage renders the post-payment page. The merchant embeds the
// flow in an iframe; the result travels via postMessage.
func writeResultPage(w http.ResponseWriter, view *store.TransactionView) {
	payload, err := json.Marshal(view)
	if err != nil {
		writeErrorPage(w, err)
		return
	}
	title := "Payment Failed"
	if view.Status == store.StatusSuccess {
		title = "Payment Successful"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body>
<script>
window.parent.postMessage({type: 'payment_result', data: %s}, '*');
</script>
</body>
</html>`, html.EscapeString(title), payload)
}

func writeErrorPage(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch payerr.KindOf(err) {
	case payerr.KindValidation, payerr.KindState, payerr.KindConflict:
		status = http.StatusBadRequest
	case payerr.KindNotFound:
		status = http.StatusNotFound
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Payment Error</title></head>
<body>
<p>%s</p>
<script>
window.parent.postMessage({type: 'payment_result', data: {status: 'failed', error: %q}}, '*');
</script>
</body>
</html>`, html.EscapeString(err.Error()), err.Error())
}
