package permit

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/bankofai/x402-tron"
)

// Types are the EIP-712 struct types of a PaymentPermit
var Types = map[string][]x402.TypedDataField{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	PrimaryType: {
		{Name: "token", Type: "address"},
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// TypedData is everything a signer needs to sign or verify a permit
type TypedData struct {
	Domain      x402.TypedDataDomain
	Types       map[string][]x402.TypedDataField
	PrimaryType string
	Message     map[string]interface{}
}

// BuildTypedData assembles the typed data for auth. Client and facilitator
// both go through here so the signed bytes cannot drift apart.
func BuildTypedData(chain Chain, domain x402.TypedDataDomain, auth Authorization) (*TypedData, error) {
	contract, err := chain.Addresses.ToEvmHex(domain.VerifyingContract)
	if err != nil {
		return nil, fmt.Errorf("verifying contract: %w", err)
	}
	domain.VerifyingContract = contract

	message := make(map[string]interface{}, 7)
	for field, addr := range map[string]string{"token": auth.Token, "from": auth.From, "to": auth.To} {
		hex, err := chain.Addresses.ToEvmHex(addr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		message[field] = hex
	}
	for field, value := range map[string]string{"value": auth.Value, "validAfter": auth.ValidAfter, "validBefore": auth.ValidBefore} {
		n, ok := new(big.Int).SetString(value, 10)
		if !ok || n.Sign() < 0 {
			return nil, fmt.Errorf("%s: invalid integer %q", field, value)
		}
		message[field] = n
	}
	nonce, err := hexutil.Decode(auth.Nonce)
	if err != nil || len(nonce) != 32 {
		return nil, fmt.Errorf("nonce: expected 32 bytes of 0x hex")
	}
	message["nonce"] = nonce

	return &TypedData{
		Domain:      domain,
		Types:       Types,
		PrimaryType: PrimaryType,
		Message:     message,
	}, nil
}

// HashTypedData computes keccak256(0x19 0x01 || domainSeparator || structHash)
func HashTypedData(
	domain x402.TypedDataDomain,
	types map[string][]x402.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[typeName] = typedFields
	}
	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		typedData.Types["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// RecoverTypedDataSigner returns the account that produced signature over the
// typed data. Signatures use the 65-byte [R || S || V] layout with V in {0,1}
// or {27,28}.
func RecoverTypedDataSigner(
	domain x402.TypedDataDomain,
	types map[string][]x402.TypedDataField,
	primaryType string,
	message map[string]interface{},
	signature []byte,
) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(signature))
	}
	digest, err := HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return common.Address{}, err
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("invalid recovery id %d", signature[crypto.RecoveryIDOffset])
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
