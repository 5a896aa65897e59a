package registry

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"dexcore/internal/chain"
	"dexcore/internal/contracts"
	"dexcore/internal/model"
)

// MetaCache resolves token metadata for addresses missing from the static
// list by reading the ERC20 contract, caching results by address.
type MetaCache struct {
	reader chain.Reader
	logger *zap.Logger

	mu   sync.RWMutex
	data map[string]model.Token
}

func NewMetaCache(reader chain.Reader, logger *zap.Logger) *MetaCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetaCache{
		reader: reader,
		logger: logger,
		data:   make(map[string]model.Token),
	}
}

// Token returns cached metadata for the address or fetches it on-chain.
func (c *MetaCache) Token(ctx context.Context, address string) (model.Token, error) {
	key := Canonical(address)

	c.mu.RLock()
	token, ok := c.data[key]
	c.mu.RUnlock()
	if ok {
		return token, nil
	}

	token, err := contracts.FetchTokenMeta(ctx, c.reader, common.HexToAddress(address), c.logger)
	if err != nil {
		return model.Token{}, err
	}
	token.Address = key

	c.mu.Lock()
	c.data[key] = token
	c.mu.Unlock()

	c.logger.Debug("token metadata fetched",
		zap.String("token", key),
		zap.String("symbol", token.Symbol),
		zap.Uint8("decimals", token.Decimals),
	)
	return token, nil
}
