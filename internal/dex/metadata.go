package dex

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"defiscope/internal/chain"
	"defiscope/internal/model"
)

// TokenMetaCache caches resolved token metadata by chain and address.
type TokenMetaCache struct {
	mu   sync.RWMutex
	data map[tokenKey]model.Token
}

type tokenKey struct {
	chain   string
	address common.Address
}

func NewTokenMetaCache() *TokenMetaCache {
	return &TokenMetaCache{data: make(map[tokenKey]model.Token)}
}

func (c *TokenMetaCache) Get(chainName string, address common.Address) (model.Token, bool) {
	c.mu.RLock()
	token, ok := c.data[tokenKey{chainName, address}]
	c.mu.RUnlock()
	return token, ok
}

func (c *TokenMetaCache) Set(chainName string, address common.Address, token model.Token) {
	c.mu.Lock()
	c.data[tokenKey{chainName, address}] = token
	c.mu.Unlock()
}

// FetchTokenMeta resolves symbol and decimals for a token with one batched
// read, falling back to the bytes32 symbol shape used by older deployments.
func FetchTokenMeta(ctx context.Context, reader chain.Reader, chainName string, address common.Address, logger *zap.Logger) (model.Token, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	stringABI, err := erc20ABIStringInstance()
	if err != nil {
		return model.Token{}, fmt.Errorf("parse erc20 string abi: %w", err)
	}

	decimalsData, err := stringABI.Pack("decimals")
	if err != nil {
		return model.Token{}, fmt.Errorf("pack decimals: %w", err)
	}
	symbolData, err := stringABI.Pack("symbol")
	if err != nil {
		return model.Token{}, fmt.Errorf("pack symbol: %w", err)
	}

	results, err := reader.Multicall(ctx, []chain.Call{
		{To: address, Data: decimalsData},
		{To: address, Data: symbolData},
	}, nil)
	if err != nil {
		return model.Token{}, fmt.Errorf("token metadata multicall: %w", err)
	}

	values, err := stringABI.Unpack("decimals", results[0])
	if err != nil {
		return model.Token{}, fmt.Errorf("unpack decimals: %w", err)
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return model.Token{}, err
	}

	token := model.Token{
		Chain:    chainName,
		Address:  model.NormalizeAddress(address.Hex()),
		Decimals: decimals,
	}

	if values, err := stringABI.Unpack("symbol", results[1]); err == nil {
		if symbol, ok := values[0].(string); ok {
			token.Symbol = symbol
		}
	} else if token.Symbol == "" {
		bytes32ABI, abiErr := erc20ABIBytes32Instance()
		if abiErr != nil {
			return model.Token{}, fmt.Errorf("parse erc20 bytes32 abi: %w", abiErr)
		}
		if values, err := bytes32ABI.Unpack("symbol", results[1]); err == nil {
			if symbol, ok := bytes32ToString(values[0]); ok {
				token.Symbol = symbol
			}
		} else {
			logger.Debug("symbol decode failed", zap.String("token", token.Address), zap.Error(err))
		}
	}

	return token, nil
}
