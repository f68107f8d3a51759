package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/networks"
)

func TestParsePriceBaseUSDC(t *testing.T) {
	amount, err := DefaultRegistry().ParsePrice("100 USDC", networks.Base)
	require.NoError(t, err)

	assert.Equal(t, "100000000", amount.Amount)
	assert.Equal(t, int32(6), amount.Decimals)
	assert.Equal(t, "USDC", amount.Symbol)
	assert.Equal(t, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", amount.Asset)
	assert.Equal(t, "USD Coin", amount.Extra["name"])
}

func TestParsePriceFractions(t *testing.T) {
	r := DefaultRegistry()
	tests := []struct {
		price string
		want  string
	}{
		{"0.01 USDT", "10000"},
		{"1.5 usdt", "1500000"},
		{"0.0000005 USDT", "1"},
		{"12345678901234567890.123456 USDT", "12345678901234567890123456"},
	}
	for _, tt := range tests {
		amount, err := r.ParsePrice(tt.price, networks.TronNile)
		require.NoError(t, err, tt.price)
		assert.Equal(t, tt.want, amount.Amount, tt.price)
	}
}

func TestParsePriceUnknownToken(t *testing.T) {
	_, err := DefaultRegistry().ParsePrice("1 DOGE", networks.Base)

	var unknown *x402.UnknownTokenError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "DOGE", unknown.Token)
	assert.Equal(t, networks.Base, unknown.Network)

	_, err = DefaultRegistry().ParsePrice("1 USDT", networks.Base)
	assert.ErrorIs(t, err, x402.ErrUnknownToken, "USDT is not registered on Base")
}

func TestParsePriceValidation(t *testing.T) {
	r := DefaultRegistry()
	for _, price := range []string{"", "USDC", "1", "1 USDC extra", "abc USDC", "0 USDC", "-1 USDC", "0.0000001 USDC", "$1 USDC", "1e2 USDC", "1E-2 USDC", "+1 USDC", "1. 5 USDC"} {
		_, err := r.ParsePrice(price, networks.Base)
		assert.ErrorIs(t, err, x402.ErrValidation, price)
	}
}

func TestParsePricePlainDecimals(t *testing.T) {
	r := DefaultRegistry()
	for price, want := range map[string]string{"100 USDC": "100000000", ".5 USDC": "500000", "2. USDC": "2000000", "0.000001 USDC": "1"} {
		got, err := r.ParsePrice(price, networks.Base)
		require.NoError(t, err, price)
		assert.Equal(t, want, got.Amount, price)
	}
}

func TestRegistryLookups(t *testing.T) {
	r := DefaultRegistry()

	token, ok := r.FindByAddress(networks.Base, "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
	require.True(t, ok)
	assert.Equal(t, "USDC", token.Symbol)

	_, ok = r.FindByAddress(networks.TronNile, "txyzopyrdj2d9xrtbg411xzz3km5vkaebf")
	assert.False(t, ok, "base58 comparison is case sensitive")

	custom := r.With(networks.TronNile, TokenInfo{Symbol: "USDD", Address: "TGjgvdTWWrybVLaVeFqSyVqJQWjxqRYbaK", Decimals: 18})
	_, err := custom.Lookup(networks.TronNile, "usdd")
	require.NoError(t, err)
	_, err = r.Lookup(networks.TronNile, "USDD")
	assert.ErrorIs(t, err, x402.ErrUnknownToken, "With must not mutate the original registry")
	_, err = custom.Lookup(networks.TronNile, "USDT")
	assert.NoError(t, err)
}
