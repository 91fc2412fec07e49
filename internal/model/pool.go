package model

import "fmt"

// PoolMetadata is an immutable record of a discovered pool. PoolID combines the
// factory and pool addresses so forked protocols sharing a pool address across
// factories never collide in storage.
type PoolMetadata struct {
	Protocol       string   `json:"protocol"`
	Chain          string   `json:"chain"`
	Version        string   `json:"version"`
	Address        string   `json:"address"`
	PoolID         string   `json:"pool_id"`
	Tokens         [2]Token `json:"tokens"`
	FeeRate        uint32   `json:"fee_rate"`
	BirthBlock     uint64   `json:"birth_block"`
	BirthTimestamp uint64   `json:"birth_timestamp"`
}

// ComposePoolID builds the composite pool identifier from the factory and pool
// addresses.
func ComposePoolID(factory, pool string) string {
	return fmt.Sprintf("%s-%s", NormalizeAddress(factory), NormalizeAddress(pool))
}

// Key returns the natural storage key for upserts.
func (p PoolMetadata) Key() string {
	return fmt.Sprintf("%s:%s:%s:%s", p.Protocol, p.Chain, NormalizeAddress(p.Address), p.PoolID)
}
