package echo

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/bankofai/x402-tron"
	x402http "github.com/bankofai/x402-tron/http"
	"github.com/bankofai/x402-tron/test/mocks/cash"
)

func newPaidServer(t *testing.T, config Config) (*httptest.Server, *cash.SchemeNetworkFacilitator) {
	t.Helper()

	facilitator, mechanism := cash.NewFacilitator()
	server := cash.NewResourceServer(facilitator)

	e := echo.New()
	e.Use(PaymentMiddlewareWithConfig(server, []x402.ResourceConfig{cash.ResourceConfig("merchant", "2 USD")}, config))
	e.GET("/report", func(c echo.Context) error {
		payment, ok := GetPayment(c)
		if !ok {
			return c.String(http.StatusOK, "free")
		}
		return c.String(http.StatusOK, "report for "+payment.Verify.Payer)
	})

	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return ts, mechanism
}

func TestPaymentMiddlewareRequiresPayment(t *testing.T) {
	ts, _ := newPaidServer(t, Config{Resource: "https://api.example.com/report"})

	resp, err := http.Get(ts.URL + "/report")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	required, err := x402http.DecodePaymentRequiredHeader(resp.Header.Get(x402http.HeaderPaymentRequired))
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/report", required.Resource.URL)
	assert.Equal(t, "2", required.Accepts[0].Amount)
}

func TestPaymentMiddlewarePaidRequest(t *testing.T) {
	ts, mechanism := newPaidServer(t, Config{})

	client := x402http.NewX402HTTPClient(cash.NewClient("bob"))
	resp, err := client.Get(context.Background(), ts.URL+"/report")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "report for bob", string(body))
	assert.NotEmpty(t, resp.Header.Get(x402http.HeaderPaymentResponse))
	assert.EqualValues(t, 1, mechanism.Settled())
}

func TestPaymentMiddlewareSkipper(t *testing.T) {
	ts, mechanism := newPaidServer(t, Config{Skipper: func(c echo.Context) bool { return true }})

	resp, err := http.Get(ts.URL + "/report")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "free", string(body))
	assert.Zero(t, mechanism.Settled())
}
