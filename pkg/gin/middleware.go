package gin

import (
	"github.com/gin-gonic/gin"

	x402 "github.com/bankofai/x402-tron"
	x402http "github.com/bankofai/x402-tron/http"
	"github.com/bankofai/x402-tron/logger"
)

// PaymentContextKey holds the *x402.ProcessResult of a paid request
const PaymentContextKey = "x402_payment"

// PaymentMiddlewareOptions is the options for the PaymentMiddleware.
type PaymentMiddlewareOptions struct {
	Description     string
	MimeType        string
	Resource        string
	ResourceRootURL string
	Logger          logger.Logger
}

// Options is the type for the options for the PaymentMiddleware.
type Options func(*PaymentMiddlewareOptions)

// WithDescription is an option for the PaymentMiddleware to set the description.
func WithDescription(description string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Description = description
	}
}

// WithMimeType is an option for the PaymentMiddleware to set the mime type.
func WithMimeType(mimeType string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.MimeType = mimeType
	}
}

// WithResource fixes the resource URL instead of deriving it from the request.
func WithResource(resource string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Resource = resource
	}
}

// WithResourceRootURL prefixes the request path to form the resource URL.
func WithResourceRootURL(resourceRootURL string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.ResourceRootURL = resourceRootURL
	}
}

func WithLogger(l logger.Logger) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Logger = l
	}
}

// PaymentMiddleware charges for every request reaching the handlers behind it.
// configs are the payment options offered in a 402, in order. Payment is
// settled before the handler runs.
func PaymentMiddleware(server *x402.X402ResourceServer, configs []x402.ResourceConfig, opts ...Options) gin.HandlerFunc {
	options := &PaymentMiddlewareOptions{}
	for _, opt := range opts {
		opt(options)
	}

	gate := x402http.NewPaymentGate(server, configs,
		x402http.WithDescription(options.Description),
		x402http.WithMimeType(options.MimeType),
		x402http.WithGateLogger(options.Logger),
	)

	return func(c *gin.Context) {
		resource := options.Resource
		if resource == "" {
			if options.ResourceRootURL != "" {
				resource = options.ResourceRootURL + c.Request.URL.Path
			} else {
				resource = x402http.ResourceURL(c.Request)
			}
		}

		result := gate.Check(c.Request.Context(), resource, c.GetHeader(x402http.HeaderPaymentSignature))
		for k, v := range result.Headers {
			c.Header(k, v)
		}
		if !result.Paid {
			c.AbortWithStatusJSON(result.Status, result.Body)
			return
		}

		c.Set(PaymentContextKey, result.Payment)
		c.Next()
	}
}

// GetPayment returns the settled payment of the current request, if any
func GetPayment(c *gin.Context) (*x402.ProcessResult, bool) {
	v, ok := c.Get(PaymentContextKey)
	if !ok {
		return nil, false
	}
	payment, ok := v.(*x402.ProcessResult)
	return payment, ok
}
