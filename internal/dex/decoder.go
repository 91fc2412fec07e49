package dex

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"defiscope/internal/model"
)

// EventDecoder decodes pool and factory logs for one protocol. Each nominal
// event signature has a primary ABI shape and a fallback shape; a log that
// fails the primary unpack is retried against the fallback before being given
// up on.
type EventDecoder struct {
	spec     ProtocolSpec
	primary  abi.ABI
	fallback abi.ABI
	factory  abi.ABI
}

// NewEventDecoder builds the decoder for a protocol spec.
func NewEventDecoder(spec ProtocolSpec) (*EventDecoder, error) {
	var primary, fallback, factory abi.ABI
	var err error
	switch spec.Family {
	case FamilyConstantProduct:
		if primary, err = V2PairABI(); err != nil {
			return nil, err
		}
		if fallback, err = V2PairAltABI(); err != nil {
			return nil, err
		}
		if factory, err = V2FactoryABI(); err != nil {
			return nil, err
		}
	case FamilyTickPool:
		if primary, err = V3PoolABI(); err != nil {
			return nil, err
		}
		if fallback, err = V3PoolAltABI(); err != nil {
			return nil, err
		}
		if factory, err = V3FactoryABI(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown protocol family: %s", spec.Family)
	}

	return &EventDecoder{spec: spec, primary: primary, fallback: fallback, factory: factory}, nil
}

// CanDecode reports whether topic0 belongs to the protocol's pool event set.
func (d *EventDecoder) CanDecode(topic0 common.Hash) bool {
	return topic0 == d.spec.SwapTopic || topic0 == d.spec.MintTopic || topic0 == d.spec.BurnTopic
}

// DecodeCreation decodes a factory creation event into a PoolCreatedEvent.
func (d *EventDecoder) DecodeCreation(log types.Log) (*model.PoolCreatedEvent, error) {
	if len(log.Topics) == 0 || log.Topics[0] != d.spec.CreationTopic {
		return nil, fmt.Errorf("not a creation event")
	}

	var eventName, poolField string
	switch d.spec.Family {
	case FamilyConstantProduct:
		eventName, poolField = "PairCreated", "pair"
	case FamilyTickPool:
		eventName, poolField = "PoolCreated", "pool"
	}

	values, err := decodeIntoMap(d.factory.Events[eventName], log)
	if err != nil {
		return nil, err
	}

	token0, err := mapAddress(values, "token0")
	if err != nil {
		return nil, err
	}
	token1, err := mapAddress(values, "token1")
	if err != nil {
		return nil, err
	}
	pool, err := mapAddress(values, poolField)
	if err != nil {
		return nil, err
	}

	event := &model.PoolCreatedEvent{
		Pool:    strings.ToLower(pool.Hex()),
		Token0:  strings.ToLower(token0.Hex()),
		Token1:  strings.ToLower(token1.Hex()),
		FeeRate: d.spec.DefaultFeeRate,
	}
	if d.spec.FeeFromCreation {
		fee, err := mapBigInt(values, "fee")
		if err != nil {
			return nil, err
		}
		event.FeeRate = uint32(fee.Uint64())
	}
	return event, nil
}

// DecodePoolEvent decodes a swap/mint/burn log into the typed event union,
// falling back to the alternate ABI shape when the primary decode fails.
func (d *EventDecoder) DecodePoolEvent(log types.Log) (*model.PoolEvent, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("missing topics")
	}

	event, err := d.decodeWith(d.primary, log)
	if err != nil {
		event, err = d.decodeWith(d.fallback, log)
	}
	if err != nil {
		return nil, err
	}

	event.BlockNumber = log.BlockNumber
	event.LogIndex = log.Index
	event.TxHash = log.TxHash.Hex()
	event.Address = strings.ToLower(log.Address.Hex())
	return event, nil
}

func (d *EventDecoder) decodeWith(poolABI abi.ABI, log types.Log) (*model.PoolEvent, error) {
	switch log.Topics[0] {
	case d.spec.SwapTopic:
		return d.decodeSwap(poolABI, log)
	case d.spec.MintTopic:
		return d.decodeLiquidity(poolABI, log, "Mint", model.EventAddLiquidity)
	case d.spec.BurnTopic:
		return d.decodeLiquidity(poolABI, log, "Burn", model.EventRemoveLiquidity)
	default:
		return nil, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}
}

func (d *EventDecoder) decodeSwap(poolABI abi.ABI, log types.Log) (*model.PoolEvent, error) {
	values, err := decodeIntoMap(poolABI.Events["Swap"], log)
	if err != nil {
		return nil, err
	}

	sender, err := mapAddress(values, "sender")
	if err != nil {
		return nil, err
	}

	swap := &model.SwapEvent{Sender: strings.ToLower(sender.Hex())}

	switch d.spec.Family {
	case FamilyConstantProduct:
		to, err := mapAddress(values, "to")
		if err != nil {
			return nil, err
		}
		swap.Recipient = strings.ToLower(to.Hex())
		if swap.Amount0In, err = mapBigInt(values, "amount0In"); err != nil {
			return nil, err
		}
		if swap.Amount1In, err = mapBigInt(values, "amount1In"); err != nil {
			return nil, err
		}
		if swap.Amount0Out, err = mapBigInt(values, "amount0Out"); err != nil {
			return nil, err
		}
		if swap.Amount1Out, err = mapBigInt(values, "amount1Out"); err != nil {
			return nil, err
		}
	case FamilyTickPool:
		recipient, err := mapAddress(values, "recipient")
		if err != nil {
			return nil, err
		}
		swap.Recipient = strings.ToLower(recipient.Hex())
		amount0, err := mapBigInt(values, "amount0")
		if err != nil {
			return nil, err
		}
		amount1, err := mapBigInt(values, "amount1")
		if err != nil {
			return nil, err
		}
		// Positive deltas flow into the pool, negative out of it.
		swap.Amount0In, swap.Amount0Out = splitSigned(amount0)
		swap.Amount1In, swap.Amount1Out = splitSigned(amount1)
	}

	return &model.PoolEvent{Kind: model.EventSwap, Swap: swap}, nil
}

func (d *EventDecoder) decodeLiquidity(poolABI abi.ABI, log types.Log, name string, kind model.EventKind) (*model.PoolEvent, error) {
	values, err := decodeIntoMap(poolABI.Events[name], log)
	if err != nil {
		return nil, err
	}

	ownerField := "owner"
	if _, ok := values[ownerField]; !ok {
		ownerField = "sender"
	}
	owner, err := mapAddress(values, ownerField)
	if err != nil {
		return nil, err
	}

	amount0, err := mapBigInt(values, "amount0")
	if err != nil {
		return nil, err
	}
	amount1, err := mapBigInt(values, "amount1")
	if err != nil {
		return nil, err
	}

	return &model.PoolEvent{
		Kind: kind,
		Liquidity: &model.LiquidityEvent{
			Owner:   strings.ToLower(owner.Hex()),
			Amount0: amount0,
			Amount1: amount1,
		},
	}, nil
}

func decodeIntoMap(event abi.Event, log types.Log) (map[string]interface{}, error) {
	indexed := indexedArguments(event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return nil, fmt.Errorf("%s: expected %d topics, got %d", event.Name, len(indexed)+1, len(log.Topics))
	}

	values := make(map[string]interface{})
	if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("%s: parse topics: %w", event.Name, err)
	}
	if err := event.Inputs.NonIndexed().UnpackIntoMap(values, log.Data); err != nil {
		return nil, fmt.Errorf("%s: unpack data: %w", event.Name, err)
	}
	return values, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func mapAddress(values map[string]interface{}, field string) (common.Address, error) {
	value, ok := values[field]
	if !ok {
		return common.Address{}, fmt.Errorf("missing field %s", field)
	}
	return asAddress(value)
}

func mapBigInt(values map[string]interface{}, field string) (*big.Int, error) {
	value, ok := values[field]
	if !ok {
		return nil, fmt.Errorf("missing field %s", field)
	}
	return asBigInt(value)
}

func splitSigned(amount *big.Int) (in, out *big.Int) {
	if amount.Sign() >= 0 {
		return new(big.Int).Set(amount), big.NewInt(0)
	}
	return big.NewInt(0), new(big.Int).Abs(amount)
}
