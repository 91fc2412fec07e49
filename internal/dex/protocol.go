package dex

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Family tags the two pool mechanics this package understands. Every protocol
// fork is described by a ProtocolSpec over one of these families instead of a
// per-fork type.
type Family string

const (
	FamilyConstantProduct Family = "constant-product"
	FamilyTickPool        Family = "tick-pool"
)

// ProtocolSpec is the data-driven capability descriptor for one protocol
// deployment: which family it belongs to, which event topics it emits, and
// where its fee rate comes from. Fee rates are parts-per-million of notional.
type ProtocolSpec struct {
	Protocol string
	Version  string
	Family   Family

	CreationTopic common.Hash
	SwapTopic     common.Hash
	MintTopic     common.Hash
	BurnTopic     common.Hash

	// FeeFromCreation is true when the creation event carries the fee rate
	// (tick pools); otherwise DefaultFeeRate applies to every pool.
	FeeFromCreation bool
	DefaultFeeRate  uint32
}

// NewProtocolSpec builds the descriptor for a protocol name and family,
// deriving topics from the family's canonical ABIs.
func NewProtocolSpec(protocol, version string, family Family, defaultFeeRate uint32) (ProtocolSpec, error) {
	spec := ProtocolSpec{
		Protocol:       protocol,
		Version:        version,
		Family:         family,
		DefaultFeeRate: defaultFeeRate,
	}

	var poolABI, factoryABI abi.ABI
	var err error
	switch family {
	case FamilyConstantProduct:
		if poolABI, err = V2PairABI(); err != nil {
			return ProtocolSpec{}, err
		}
		if factoryABI, err = V2FactoryABI(); err != nil {
			return ProtocolSpec{}, err
		}
		spec.CreationTopic = factoryABI.Events["PairCreated"].ID
		if spec.DefaultFeeRate == 0 {
			spec.DefaultFeeRate = 3000
		}
	case FamilyTickPool:
		if poolABI, err = V3PoolABI(); err != nil {
			return ProtocolSpec{}, err
		}
		if factoryABI, err = V3FactoryABI(); err != nil {
			return ProtocolSpec{}, err
		}
		spec.CreationTopic = factoryABI.Events["PoolCreated"].ID
		spec.FeeFromCreation = true
	default:
		return ProtocolSpec{}, fmt.Errorf("unknown protocol family: %s", family)
	}

	spec.SwapTopic = poolABI.Events["Swap"].ID
	spec.MintTopic = poolABI.Events["Mint"].ID
	spec.BurnTopic = poolABI.Events["Burn"].ID
	return spec, nil
}

// PoolTopics returns the topic0 filter for pool event replay.
func (s ProtocolSpec) PoolTopics() []common.Hash {
	return []common.Hash{s.SwapTopic, s.MintTopic, s.BurnTopic}
}
