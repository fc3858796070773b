package onchain

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestClassifyCode(t *testing.T) {
	assert.Equal(t, ContractTypeEOA, ClassifyCode(nil))
	assert.Equal(t, ContractTypeEOA, ClassifyCode([]byte{}))

	minimal := mustHex(t, "363d3d373d3d3d363d73bebebebebebebebebebebebebebebebebebebebe5af43d82803e903d91602b57fd5bf3")
	assert.Equal(t, ContractTypeProxy, ClassifyCode(minimal))

	eip1967 := append(mustHex(t, "6080604052"), mustHex(t, "360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")...)
	assert.Equal(t, ContractTypeProxy, ClassifyCode(eip1967))

	assert.Equal(t, ContractTypeContract, ClassifyCode(mustHex(t, "608060405234801561001057600080fd5b50")))
}

func TestSignals_Helpers(t *testing.T) {
	u := Unknown()
	assert.True(t, u.AllUnknown())
	assert.True(t, u.MaybeContract())
	assert.False(t, u.Contract())

	yes, no := true, false
	assert.True(t, Signals{IsContract: &yes}.Contract())
	assert.False(t, Signals{IsContract: &no}.MaybeContract())
}

func TestSignals_JSONKeepsNulls(t *testing.T) {
	b, err := json.Marshal(Unknown())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"txCount": null,
		"isContract": null,
		"isVerified": null,
		"contractType": "unknown",
		"contractAgeDays": null,
		"unavailable": ["tx_count","code","verification","age"]
	}`, string(b))
}
