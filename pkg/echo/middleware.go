package echo

import (
	"github.com/labstack/echo/v4"

	x402 "github.com/bankofai/x402-tron"
	x402http "github.com/bankofai/x402-tron/http"
	"github.com/bankofai/x402-tron/logger"
)

// PaymentContextKey holds the *x402.ProcessResult of a paid request
const PaymentContextKey = "x402_payment"

// Config configures the payment middleware
type Config struct {
	// Skipper defines a function to skip the middleware.
	Skipper func(c echo.Context) bool

	Description string
	MimeType    string

	// Resource fixes the resource URL; by default it is the request URL
	Resource string

	Logger logger.Logger
}

// PaymentMiddleware charges for every request with the default config
func PaymentMiddleware(server *x402.X402ResourceServer, configs []x402.ResourceConfig) echo.MiddlewareFunc {
	return PaymentMiddlewareWithConfig(server, configs, Config{})
}

// PaymentMiddlewareWithConfig settles a payment before calling the next
// handler and answers 402 otherwise
func PaymentMiddlewareWithConfig(server *x402.X402ResourceServer, configs []x402.ResourceConfig, config Config) echo.MiddlewareFunc {
	gate := x402http.NewPaymentGate(server, configs,
		x402http.WithDescription(config.Description),
		x402http.WithMimeType(config.MimeType),
		x402http.WithGateLogger(config.Logger),
	)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Skipper != nil && config.Skipper(c) {
				return next(c)
			}

			resource := config.Resource
			if resource == "" {
				resource = x402http.ResourceURL(c.Request())
			}

			result := gate.Check(c.Request().Context(), resource, c.Request().Header.Get(x402http.HeaderPaymentSignature))
			for k, v := range result.Headers {
				c.Response().Header().Set(k, v)
			}
			if !result.Paid {
				return c.JSON(result.Status, result.Body)
			}

			c.Set(PaymentContextKey, result.Payment)
			return next(c)
		}
	}
}

// GetPayment returns the settled payment of the current request, if any
func GetPayment(c echo.Context) (*x402.ProcessResult, bool) {
	payment, ok := c.Get(PaymentContextKey).(*x402.ProcessResult)
	return payment, ok
}
