// Package router wires the HTTP routes: the authenticated /api surface and
// the public cardholder surface.
package router

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/metinweb/ors-payment-service/handler"
	"github.com/metinweb/ors-payment-service/infra/config"
	"github.com/metinweb/ors-payment-service/infra/middle"
	"github.com/metinweb/ors-payment-service/payment"

	// Adapter registration.
	_ "github.com/metinweb/ors-payment-service/provider/garanti"
	_ "github.com/metinweb/ors-payment-service/provider/iyzico"
	_ "github.com/metinweb/ors-payment-service/provider/payten"
	_ "github.com/metinweb/ors-payment-service/provider/qnb"
	_ "github.com/metinweb/ors-payment-service/provider/vakifbank"
	_ "github.com/metinweb/ors-payment-service/provider/ykb"
)

// New builds the router for a payment service.
func New(service *payment.Service, cfg *config.AppConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middle.SecurityHeadersMiddleware())
	r.Use(middle.RateLimitMiddleware(middle.NewRateLimiter()))
	r.Use(middle.RequestValidationMiddleware())

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handler.CompanyHeader, middle.GatewayUserHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handler.Health)

	payments := handler.NewPaymentHandler(service, config.App().Validator)
	r.Route("/api/payment", func(r chi.Router) {
		r.Use(middle.AuthMiddleware())
		r.Post("/bin", payments.QueryBin)
		r.Post("/pay", payments.CreatePayment)
		r.Post("/preauth", payments.PreAuthorize)
		r.Get("/{id}", payments.GetTransaction)
		r.Post("/{id}/refund", payments.Refund)
		r.Post("/{id}/cancel", payments.Cancel)
		r.Post("/{id}/capture", payments.Capture)
		r.Get("/{id}/remote", payments.RemoteStatus)
		r.Get("/{id}/history", payments.History)
	})

	// Cardholder surface: the bank and the cardholder's browser reach these
	// without credentials.
	public := handler.NewPublicHandler(service)
	r.Route("/payment/{id}", func(r chi.Router) {
		r.Get("/form", public.PaymentForm)
		r.Post("/callback", public.Callback)
	})

	return r
}
