package gin

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/bankofai/x402-tron"
	x402http "github.com/bankofai/x402-tron/http"
	"github.com/bankofai/x402-tron/test/mocks/cash"
)

func newPaidRouter(t *testing.T) (*httptest.Server, *cash.SchemeNetworkFacilitator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	facilitator, mechanism := cash.NewFacilitator()
	server := cash.NewResourceServer(facilitator)

	router := gin.New()
	router.GET("/weather",
		PaymentMiddleware(server, []x402.ResourceConfig{cash.ResourceConfig("merchant", "$5")}, WithDescription("weather")),
		func(c *gin.Context) {
			payment, ok := GetPayment(c)
			if !ok {
				c.String(http.StatusInternalServerError, "no payment in context")
				return
			}
			c.String(http.StatusOK, "sunny, paid by "+payment.Verify.Payer)
		})

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts, mechanism
}

func TestPaymentMiddlewareRequiresPayment(t *testing.T) {
	ts, mechanism := newPaidRouter(t)

	resp, err := http.Get(ts.URL + "/weather")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	required, err := x402http.DecodePaymentRequiredHeader(resp.Header.Get(x402http.HeaderPaymentRequired))
	require.NoError(t, err)
	require.Len(t, required.Accepts, 1)
	assert.Equal(t, "5", required.Accepts[0].Amount)
	assert.Equal(t, ts.URL+"/weather", required.Resource.URL)
	assert.Equal(t, "weather", required.Resource.Description)
	assert.Zero(t, mechanism.Settled())
}

func TestPaymentMiddlewarePaidRequest(t *testing.T) {
	ts, mechanism := newPaidRouter(t)

	client := x402http.NewX402HTTPClient(cash.NewClient("alice"))
	resp, err := client.Get(context.Background(), ts.URL+"/weather")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sunny, paid by alice", string(body))

	settle, err := x402http.GetPaymentSettleResponse(resp)
	require.NoError(t, err)
	assert.True(t, settle.Success)
	assert.Equal(t, "cash-1", settle.Transaction)
	assert.EqualValues(t, 1, mechanism.Settled())
}

func TestPaymentMiddlewareForgedPayment(t *testing.T) {
	ts, mechanism := newPaidRouter(t)

	requirements := cash.BuildPaymentRequirements("merchant", "5")
	payload, err := cash.NewSchemeNetworkClient("alice").CreatePaymentPayload(context.Background(), requirements, nil, nil)
	require.NoError(t, err)
	payload.Payload["signature"] = "~mallory"
	header, err := x402http.EncodePaymentSignatureHeader(payload)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/weather", nil)
	req.Header.Set(x402http.HeaderPaymentSignature, header)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	required, err := x402http.DecodePaymentRequiredHeader(resp.Header.Get(x402http.HeaderPaymentRequired))
	require.NoError(t, err)
	assert.Equal(t, "invalid_signature", required.Error)
	assert.Zero(t, mechanism.Settled())
}
