package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dexcore/internal/model"
	"dexcore/internal/position"
	"dexcore/internal/registry"
)

func runPositions(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	owner, _ := cmd.Flags().GetString("owner")
	if !registry.ValidAddress(owner) {
		return fmt.Errorf("--owner must be a valid address")
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if !registry.ValidAddress(a.cfg.PositionManager) {
		return fmt.Errorf("position-manager address is required")
	}

	dir, err := a.newDirectory(ctx)
	if err != nil {
		return err
	}
	svc := position.NewService(a.client, common.HexToAddress(a.cfg.PositionManager), a.logger)

	positions, err := svc.ListPositions(ctx, common.HexToAddress(owner))
	if err != nil {
		return err
	}

	// Positions can reference tokens outside the static list; pull their
	// metadata on-chain so amounts use the right decimals.
	metaCache := registry.NewMetaCache(a.client, a.logger)
	var extra []model.Token
	seen := make(map[string]bool)
	for _, pos := range positions {
		for _, addr := range []string{pos.Token0, pos.Token1} {
			if _, ok := a.registry.ByAddress(addr); ok {
				continue
			}
			if seen[registry.Canonical(addr)] {
				continue
			}
			seen[registry.Canonical(addr)] = true
			token, err := metaCache.Token(ctx, addr)
			if err != nil {
				a.logger.Warn("token metadata fetch failed", zap.String("token", addr), zap.Error(err))
				continue
			}
			extra = append(extra, token)
		}
	}
	reg := a.registry
	if len(extra) > 0 {
		if reg, err = a.registry.Extend(extra); err != nil {
			return err
		}
	}
	deriver := position.NewDeriver(reg, a.logger)

	encoder := json.NewEncoder(os.Stdout)
	for _, pos := range positions {
		pool, err := dir.GetPoolDetails(ctx, pos.Token0, pos.Token1, pos.Fee)
		if err != nil {
			return err
		}
		if pool == nil {
			// Pool unreachable right now; emit the raw record instead of
			// dropping the position.
			a.logger.Warn("pool state unavailable", zap.String("token_id", pos.TokenID))
			if err := encoder.Encode(pos); err != nil {
				return err
			}
			continue
		}
		details, err := deriver.Derive(pos, *pool)
		if err != nil {
			return err
		}
		if err := encoder.Encode(details); err != nil {
			return err
		}
	}
	return nil
}

func runCreatePool(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokenA, _ := cmd.Flags().GetString("token-a")
	tokenB, _ := cmd.Flags().GetString("token-b")
	fee, _ := cmd.Flags().GetUint32("fee")
	price, _ := cmd.Flags().GetFloat64("price")
	if price <= 0 {
		return fmt.Errorf("--price must be positive")
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if a.writer == nil {
		return fmt.Errorf("create-pool requires a signer, set --private-key")
	}

	dir, err := a.newDirectory(ctx)
	if err != nil {
		return err
	}

	addr, err := dir.CreatePoolIfNeeded(ctx, tokenA, tokenB, fee, price)
	if err != nil {
		return err
	}
	a.logger.Info("pool ready", zap.String("pool", addr.Hex()))
	fmt.Println(addr.Hex())
	return nil
}
