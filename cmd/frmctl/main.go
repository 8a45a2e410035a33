package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coldbell/frm-dex/client/internal/chain"
	"github.com/coldbell/frm-dex/client/internal/config"
	"github.com/coldbell/frm-dex/client/internal/intent"
	"github.com/coldbell/frm-dex/client/internal/logging"
	"github.com/coldbell/frm-dex/client/internal/sequencer"
	"github.com/coldbell/frm-dex/client/internal/trading"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&app{}).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// orderbookSource is the read side of the sequencer used by sequencer-book.
type orderbookSource interface {
	GetOrderbook(ctx context.Context) (sequencer.Orderbook, error)
}

// app carries the dependencies shared by every subcommand. Fields left nil are
// built from configuration on first use.
type app struct {
	cfg       config.ClientConfig
	logger    *slog.Logger
	closeLog  func() error
	rpc       chain.RPC
	submitter trading.Submitter
	orderbook orderbookSource
	signer    intent.Signer
	now       func() time.Time

	loader *chain.Loader
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "frmctl",
		Short:        "Inspect and trade on an FRM order book market",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if a.closeLog == nil {
				return nil
			}
			return a.closeLog()
		},
	}
	root.AddCommand(
		newDeriveCmd(a),
		newDecodeCmd(a),
		newMarketCmd(a),
		newBookCmd(a),
		newOrdersCmd(a),
		newConsumeCmd(a),
		newPlaceCmd(a),
		newCancelCmd(a),
		newSequencerBookCmd(a),
	)
	return root
}

func (a *app) setup() error {
	if a.now == nil {
		a.now = time.Now
	}
	if a.logger != nil {
		return a.wire()
	}

	cfg, err := config.LoadClientConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// stdout carries command output.
	if cfg.Log.Output == "" || cfg.Log.Output == "console" {
		cfg.Log.Output = "stderr"
	}
	logger, closeLog, err := logging.New("frmctl", cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.cfg, a.logger, a.closeLog = cfg, logger, closeLog

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Debug("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}
	return a.wire()
}

func (a *app) wire() error {
	if a.rpc == nil {
		a.rpc = rpc.New(a.cfg.Chain.RPCURL)
	}
	if a.submitter == nil || a.orderbook == nil {
		client := sequencer.NewClient(a.cfg.Intent.SequencerURL, a.cfg.Intent.SequencerTimeout, nil)
		if a.submitter == nil {
			a.submitter = client
		}
		if a.orderbook == nil {
			a.orderbook = client
		}
	}
	a.loader = chain.NewLoader(a.rpc, a.cfg.Chain.Commitment, a.cfg.Chain.RPCTimeout, a.logger)
	return nil
}

func (a *app) loadSigner() (intent.Signer, error) {
	if a.signer != nil {
		return a.signer, nil
	}
	signer, err := intent.LoadKeypairSigner(a.cfg.Intent.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("load keypair: %w", err)
	}
	a.signer = signer
	return signer, nil
}

func (a *app) trader() (*trading.Trader, error) {
	signer, err := a.loadSigner()
	if err != nil {
		return nil, err
	}
	return trading.NewTrader(signer, a.submitter, trading.Options{
		SignPayload:    a.cfg.Intent.SignPayload,
		CancelEncoding: a.cfg.Intent.CancelEncoding,
		Now:            a.now,
	}, a.logger), nil
}

// market resolves --market, falling back to FRM_MARKET.
func (a *app) market(raw string) (solana.PublicKey, error) {
	if raw != "" {
		pk, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("invalid market %q: %w", raw, err)
		}
		return pk, nil
	}
	if a.cfg.Chain.Market.IsZero() {
		return solana.PublicKey{}, fmt.Errorf("no market: pass --market or set FRM_MARKET")
	}
	return a.cfg.Chain.Market, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
