package model

import "strings"

// Token is an ERC20 token resolved once from chain metadata and immutable after.
// Address is stored as a lower-case hex string so map keys and natural storage
// keys compare case-insensitively.
type Token struct {
	Chain    string `json:"chain"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// NormalizeAddress lowers a hex address for identity comparisons.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Equal compares tokens by chain and normalized address.
func (t Token) Equal(other Token) bool {
	return t.Chain == other.Chain && NormalizeAddress(t.Address) == NormalizeAddress(other.Address)
}
