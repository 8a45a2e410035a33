package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coldbell/frm-dex/client/internal/dex"
	"github.com/coldbell/frm-dex/client/internal/intent"
	"github.com/coldbell/frm-dex/client/internal/trading"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type submissionView struct {
	Kind      string          `json:"kind"`
	OrderID   uint64          `json:"order_id"`
	State     trading.State   `json:"state"`
	History   []trading.State `json:"history"`
	Digest    string          `json:"digest,omitempty"`
	Signature string          `json:"signature,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func newSubmissionView(sub *trading.Submission) submissionView {
	view := submissionView{
		Kind:      sub.Kind,
		OrderID:   sub.OrderID,
		State:     sub.State,
		History:   sub.History,
		Signature: sub.Signature,
		Response:  sub.Response,
	}
	if sub.Digest != ([32]byte{}) {
		view.Digest = hex.EncodeToString(sub.Digest[:])
	}
	if sub.Err != nil {
		view.Error = sub.Err.Error()
	}
	return view
}

// printSubmission writes whatever state was reached and still returns err so
// the process exits non-zero on anything but acceptance.
func printSubmission(cmd *cobra.Command, sub *trading.Submission, err error) error {
	if sub != nil {
		if printErr := printJSON(cmd.OutOrStdout(), newSubmissionView(sub)); printErr != nil {
			return printErr
		}
	}
	return err
}

type placeFlags struct {
	market  string
	side    string
	price   string
	qty     string
	lots    bool
	expiry  time.Duration
	orderID uint64
	dryRun  bool
}

func newPlaceCmd(a *app) *cobra.Command {
	var flags placeFlags
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Sign and submit a limit order intent to the sequencer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			address, err := a.market(flags.market)
			if err != nil {
				return err
			}
			trader, err := a.trader()
			if err != nil {
				return err
			}
			m, err := a.loader.LoadMarket(ctx, address)
			if err != nil {
				return err
			}
			units, err := dex.MarketUnits(m)
			if err != nil {
				return err
			}

			o, err := buildOrderIntent(flags, units, a.expiryDefault(), a.now())
			if err != nil {
				return err
			}
			o.Owner = trader.Owner()
			o.BaseMint = m.BaseMint
			o.QuoteMint = m.QuoteMint

			if flags.dryRun {
				sub, err := trader.BuildAndSignOrder(ctx, o)
				return printSubmission(cmd, sub, err)
			}
			sub, err := trader.PlaceOrder(ctx, o)
			return printSubmission(cmd, sub, err)
		},
	}
	cmd.Flags().StringVar(&flags.market, "market", "", "market address (defaults to FRM_MARKET)")
	cmd.Flags().StringVar(&flags.side, "side", "", "bid or ask")
	cmd.Flags().StringVar(&flags.price, "price", "", "limit price in quote units per base unit")
	cmd.Flags().StringVar(&flags.qty, "qty", "", "quantity in base units")
	cmd.Flags().BoolVar(&flags.lots, "lots", false, "read --price and --qty as lot counts")
	cmd.Flags().DurationVar(&flags.expiry, "expiry", 0, "time to live (defaults to INTENT_EXPIRY)")
	cmd.Flags().Uint64Var(&flags.orderID, "order-id", 0, "order id (generated when 0)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "sign without submitting")
	_ = cmd.MarkFlagRequired("side")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}

func (a *app) expiryDefault() time.Duration {
	if a.cfg.Intent.Expiry > 0 {
		return a.cfg.Intent.Expiry
	}
	return time.Hour
}

// buildOrderIntent converts command-line values to lots. Owner and mints are
// left for the caller.
func buildOrderIntent(flags placeFlags, units dex.Units, defaultExpiry time.Duration, now time.Time) (intent.OrderIntent, error) {
	side, err := intent.ParseSide(flags.side)
	if err != nil {
		return intent.OrderIntent{}, err
	}
	price, err := parseAmount("price", flags.price, flags.lots, units.UIPriceToLots)
	if err != nil {
		return intent.OrderIntent{}, err
	}
	qty, err := parseAmount("qty", flags.qty, flags.lots, units.UIBaseToLots)
	if err != nil {
		return intent.OrderIntent{}, err
	}

	ttl := flags.expiry
	if ttl == 0 {
		ttl = defaultExpiry
	}
	if ttl < 0 {
		return intent.OrderIntent{}, fmt.Errorf("--expiry must be positive")
	}
	orderID := flags.orderID
	if orderID == 0 {
		orderID = trading.NewOrderID(now)
	}
	return intent.OrderIntent{
		OrderID:  orderID,
		Side:     side,
		Price:    price,
		Quantity: qty,
		Expiry:   uint64(now.Add(ttl).Unix()),
	}, nil
}

func parseAmount(name, raw string, lots bool, toLots func(decimal.Decimal) (uint64, error)) (uint64, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s %q: %w", name, raw, err)
	}
	var out uint64
	if lots {
		whole := value.BigInt()
		if !value.IsInteger() || !whole.IsUint64() {
			return 0, fmt.Errorf("--%s must be a whole number of lots", name)
		}
		out = whole.Uint64()
	} else if out, err = toLots(value); err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}
	if out == 0 {
		return 0, fmt.Errorf("--%s %s is less than one lot", name, raw)
	}
	return out, nil
}

func newCancelCmd(a *app) *cobra.Command {
	var orderID uint64
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Sign and submit a cancel intent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			trader, err := a.trader()
			if err != nil {
				return err
			}
			sub, err := trader.CancelOrder(cmd.Context(), orderID)
			return printSubmission(cmd, sub, err)
		},
	}
	cmd.Flags().Uint64Var(&orderID, "order-id", 0, "order id to cancel")
	_ = cmd.MarkFlagRequired("order-id")
	return cmd
}

func newSequencerBookCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sequencer-book",
		Short: "Print the sequencer's off-chain order book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ob, err := a.orderbook.GetOrderbook(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ob)
		},
	}
}
