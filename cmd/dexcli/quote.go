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

	"dexcore/internal/quote"
	"dexcore/internal/registry"
)

func (a *app) newEngine() (*quote.Engine, error) {
	if !registry.ValidAddress(a.cfg.Quoter) {
		return nil, fmt.Errorf("quoter address is required")
	}
	if !registry.ValidAddress(a.cfg.LegacyRouter) {
		return nil, fmt.Errorf("legacy-router address is required")
	}
	return quote.New(quote.Config{
		Quoter:        common.HexToAddress(a.cfg.Quoter),
		SwapRouter:    common.HexToAddress(a.cfg.SwapRouter),
		LegacyRouter:  common.HexToAddress(a.cfg.LegacyRouter),
		WrappedNative: common.HexToAddress(a.cfg.WrappedNative),
		DefaultFee:    a.cfg.DefaultFee,
		SlippagePct:   a.cfg.SlippagePct,
		WaitTimeout:   a.cfg.WaitTimeout,
	}, a.client, a.writer, a.registry, a.logger), nil
}

func runQuote(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokenIn, _ := cmd.Flags().GetString("in")
	tokenOut, _ := cmd.Flags().GetString("token-out")
	amount, _ := cmd.Flags().GetString("amount")
	if tokenIn == "" || tokenOut == "" || amount == "" {
		return fmt.Errorf("--in, --token-out, and --amount are required")
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	engine, err := a.newEngine()
	if err != nil {
		return err
	}

	result, err := engine.GetQuote(ctx, tokenIn, tokenOut, amount)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(result)
}

func runSwap(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokenIn, _ := cmd.Flags().GetString("in")
	tokenOut, _ := cmd.Flags().GetString("token-out")
	amount, _ := cmd.Flags().GetString("amount")
	slippage, _ := cmd.Flags().GetFloat64("slippage")
	recipient, _ := cmd.Flags().GetString("recipient")
	if tokenIn == "" || tokenOut == "" || amount == "" {
		return fmt.Errorf("--in, --token-out, and --amount are required")
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if a.writer == nil {
		return fmt.Errorf("swap requires a signer, set --private-key")
	}
	if !registry.ValidAddress(a.cfg.SwapRouter) {
		return fmt.Errorf("swap-router address is required")
	}

	engine, err := a.newEngine()
	if err != nil {
		return err
	}

	keyed, ok := a.writer.(interface{ From() common.Address })
	if !ok {
		return fmt.Errorf("writer does not expose a signer address")
	}
	params := quote.SwapParams{
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		AmountIn:    amount,
		SlippagePct: slippage,
		Owner:       keyed.From(),
	}
	if recipient != "" {
		if !registry.ValidAddress(recipient) {
			return fmt.Errorf("recipient %q is not a valid address", recipient)
		}
		params.Recipient = common.HexToAddress(recipient)
	}

	txHash, err := engine.ExecuteSwap(ctx, params)
	if err != nil {
		return err
	}
	a.logger.Info("swap confirmed", zap.String("tx", txHash.Hex()))
	fmt.Println(txHash.Hex())
	return nil
}
