package position

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"dexcore/internal/chain"
	"dexcore/internal/contracts"
	"dexcore/internal/model"
	"dexcore/internal/registry"
)

// Service reads raw position records from the position-manager contract.
// Economics stay in Deriver; this type only crosses the wire boundary.
type Service struct {
	reader  chain.Reader
	manager common.Address
	logger  *zap.Logger
}

func NewService(reader chain.Reader, manager common.Address, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{reader: reader, manager: manager, logger: logger}
}

// ListPositions enumerates the owner's position tokens and fetches each
// record. A single unreadable position fails the whole listing; partial
// listings would silently misreport holdings.
func (s *Service) ListPositions(ctx context.Context, owner common.Address) ([]model.Position, error) {
	managerABI, err := contracts.PositionManagerABI()
	if err != nil {
		return nil, fmt.Errorf("parse position manager abi: %w", err)
	}

	values, err := contracts.Call(ctx, s.reader, s.manager, managerABI, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("position count for %s: %w", owner.Hex(), err)
	}
	count, err := contracts.AsBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("position count for %s: %w", owner.Hex(), err)
	}

	total := count.Int64()
	positions := make([]model.Position, 0, total)
	for i := int64(0); i < total; i++ {
		values, err := contracts.Call(ctx, s.reader, s.manager, managerABI, "tokenOfOwnerByIndex", owner, big.NewInt(i))
		if err != nil {
			return nil, fmt.Errorf("position token at index %d: %w", i, err)
		}
		tokenID, err := contracts.AsBigInt(values[0])
		if err != nil {
			return nil, fmt.Errorf("position token at index %d: %w", i, err)
		}
		pos, err := s.GetPosition(ctx, tokenID)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *pos)
	}
	s.logger.Debug("positions listed", zap.String("owner", owner.Hex()), zap.Int("count", len(positions)))
	return positions, nil
}

// GetPosition fetches and decodes one position record by token id.
func (s *Service) GetPosition(ctx context.Context, tokenID *big.Int) (*model.Position, error) {
	managerABI, err := contracts.PositionManagerABI()
	if err != nil {
		return nil, fmt.Errorf("parse position manager abi: %w", err)
	}
	values, err := contracts.Call(ctx, s.reader, s.manager, managerABI, "positions", tokenID)
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", tokenID.String(), err)
	}
	pos, err := decodePosition(tokenID, values)
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", tokenID.String(), err)
	}
	return pos, nil
}

// decodePosition coerces the 12-field positional tuple into the model. The
// nonce, operator, and fee-growth fields are accounting internals and are
// dropped at this boundary.
func decodePosition(tokenID *big.Int, values []interface{}) (*model.Position, error) {
	if len(values) != 12 {
		return nil, fmt.Errorf("positions tuple has %d fields, want 12", len(values))
	}

	token0, err := contracts.AsAddress(values[2])
	if err != nil {
		return nil, fmt.Errorf("token0: %w", err)
	}
	token1, err := contracts.AsAddress(values[3])
	if err != nil {
		return nil, fmt.Errorf("token1: %w", err)
	}
	fee, err := contracts.AsBigInt(values[4])
	if err != nil {
		return nil, fmt.Errorf("fee: %w", err)
	}
	lowerRaw, err := contracts.AsBigInt(values[5])
	if err != nil {
		return nil, fmt.Errorf("tickLower: %w", err)
	}
	tickLower, err := contracts.Int24FromBig(lowerRaw)
	if err != nil {
		return nil, fmt.Errorf("tickLower: %w", err)
	}
	upperRaw, err := contracts.AsBigInt(values[6])
	if err != nil {
		return nil, fmt.Errorf("tickUpper: %w", err)
	}
	tickUpper, err := contracts.Int24FromBig(upperRaw)
	if err != nil {
		return nil, fmt.Errorf("tickUpper: %w", err)
	}
	liquidity, err := contracts.AsBigInt(values[7])
	if err != nil {
		return nil, fmt.Errorf("liquidity: %w", err)
	}
	owed0, err := contracts.AsBigInt(values[10])
	if err != nil {
		return nil, fmt.Errorf("tokensOwed0: %w", err)
	}
	owed1, err := contracts.AsBigInt(values[11])
	if err != nil {
		return nil, fmt.Errorf("tokensOwed1: %w", err)
	}

	return &model.Position{
		TokenID:     tokenID.String(),
		Token0:      registry.Canonical(token0.Hex()),
		Token1:      registry.Canonical(token1.Hex()),
		Fee:         uint32(fee.Uint64()),
		TickLower:   tickLower,
		TickUpper:   tickUpper,
		Liquidity:   liquidity.String(),
		TokensOwed0: owed0.String(),
		TokensOwed1: owed1.String(),
	}, nil
}
