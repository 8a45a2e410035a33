package main

import (
	"fmt"
	"strconv"

	"github.com/coldbell/frm-dex/client/internal/book"
	"github.com/coldbell/frm-dex/client/internal/chain"
	"github.com/coldbell/frm-dex/client/internal/dex"
	"github.com/coldbell/frm-dex/client/internal/layout"
	"github.com/coldbell/frm-dex/client/internal/reconcile"
	"github.com/coldbell/frm-dex/client/internal/watcher"
	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
)

type derivedAddress struct {
	Kind    string `json:"kind"`
	Program string `json:"program"`
	Address string `json:"address"`
	Bump    uint8  `json:"bump"`
}

func newDeriveCmd(a *app) *cobra.Command {
	var program string
	cmd := &cobra.Command{
		Use:   "derive <kind> [seeds...]",
		Short: "Derive a program address (open-orders, open-orders-indexer, vault-state, ...)",
		Long: `Derive a program address from its kind and seeds.

Seeds are base58 addresses or decimal u32 indexes, in the order the kind
expects. Vault kinds default to FRM_VAULT_PROGRAM_ID, all others to
FRM_DEX_PROGRAM_ID.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := dex.ParseKind(args[0])
			if err != nil {
				return err
			}
			seeds, err := parseSeeds(args[1:])
			if err != nil {
				return err
			}
			programID, err := a.programFor(kind, program)
			if err != nil {
				return err
			}
			address, bump, err := dex.Derive(programID, kind, seeds...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), derivedAddress{
				Kind:    kind.String(),
				Program: programID.String(),
				Address: address.String(),
				Bump:    bump,
			})
		},
	}
	cmd.Flags().StringVar(&program, "program", "", "program id override")
	return cmd
}

func parseSeeds(args []string) ([]dex.Seed, error) {
	seeds := make([]dex.Seed, 0, len(args))
	for _, raw := range args {
		if index, err := strconv.ParseUint(raw, 10, 32); err == nil {
			seeds = append(seeds, dex.IndexSeed(uint32(index)))
			continue
		}
		pk, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			return nil, fmt.Errorf("seed %q is neither an address nor a u32 index", raw)
		}
		seeds = append(seeds, dex.AddressSeed(pk))
	}
	return seeds, nil
}

func (a *app) programFor(kind dex.Kind, override string) (solana.PublicKey, error) {
	if override != "" {
		pk, err := solana.PublicKeyFromBase58(override)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("invalid program %q: %w", override, err)
		}
		return pk, nil
	}
	switch kind {
	case dex.KindVaultState, dex.KindVaultAuthority, dex.KindUserState, dex.KindVaultTokenAccount:
		if a.cfg.Chain.VaultProgramID.IsZero() {
			return solana.PublicKey{}, fmt.Errorf("%s needs --program or FRM_VAULT_PROGRAM_ID", kind)
		}
		return a.cfg.Chain.VaultProgramID, nil
	default:
		return a.cfg.Chain.DexProgramID, nil
	}
}

func newDecodeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <kind> <address>",
		Short: "Fetch an account and print its decoded contents (market, open-orders, book-side, event-heap, ...)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := solana.PublicKeyFromBase58(args[1])
			if err != nil {
				return fmt.Errorf("invalid address %q: %w", args[1], err)
			}
			data, found, err := a.loader.FetchAccount(cmd.Context(), address)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%s: %w", address, chain.ErrAccountNotFound)
			}
			decoded, err := layout.Decode(layout.Kind(args[0]), data)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), decoded)
		},
	}
}

type marketSummary struct {
	Address         string `json:"address"`
	Name            string `json:"name"`
	MarketAuthority string `json:"market_authority"`
	EventAuthority  string `json:"event_authority"`
	BaseMint        string `json:"base_mint"`
	QuoteMint       string `json:"quote_mint"`
	BaseDecimals    uint8  `json:"base_decimals"`
	QuoteDecimals   uint8  `json:"quote_decimals"`
	BaseLotSize     int64  `json:"base_lot_size"`
	QuoteLotSize    int64  `json:"quote_lot_size"`
	Bids            string `json:"bids"`
	Asks            string `json:"asks"`
	EventHeap       string `json:"event_heap"`
	MakerFee        int64  `json:"maker_fee"`
	TakerFee        int64  `json:"taker_fee"`
	SeqNum          uint64 `json:"seq_num"`
	BaseDeposits    string `json:"base_deposits"`
	QuoteDeposits   string `json:"quote_deposits"`
}

func newMarketCmd(a *app) *cobra.Command {
	var marketFlag string
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Print market parameters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			address, err := a.market(marketFlag)
			if err != nil {
				return err
			}
			m, err := a.loader.LoadMarket(cmd.Context(), address)
			if err != nil {
				return err
			}
			marketAuthority, _, err := dex.DeriveMarketAuthorityPDA(a.cfg.Chain.DexProgramID, address)
			if err != nil {
				return err
			}
			eventAuthority, _, err := dex.DeriveEventAuthorityPDA(a.cfg.Chain.DexProgramID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), marketSummary{
				Address:         address.String(),
				Name:            m.NameString(),
				MarketAuthority: marketAuthority.String(),
				EventAuthority:  eventAuthority.String(),
				BaseMint:        m.BaseMint.String(),
				QuoteMint:       m.QuoteMint.String(),
				BaseDecimals:    m.BaseDecimals,
				QuoteDecimals:   m.QuoteDecimals,
				BaseLotSize:     m.BaseLotSize,
				QuoteLotSize:    m.QuoteLotSize,
				Bids:            m.Bids.String(),
				Asks:            m.Asks.String(),
				EventHeap:       m.EventHeap.String(),
				MakerFee:        m.MakerFee,
				TakerFee:        m.TakerFee,
				SeqNum:          m.SeqNum,
				BaseDeposits:    dex.NativeToUI(m.BaseDepositTotal, m.BaseDecimals).String(),
				QuoteDeposits:   dex.NativeToUI(m.QuoteDepositTotal, m.QuoteDecimals).String(),
			})
		},
	}
	cmd.Flags().StringVar(&marketFlag, "market", "", "market address (defaults to FRM_MARKET)")
	return cmd
}

func newBookCmd(a *app) *cobra.Command {
	var (
		marketFlag string
		depth      int
		aggregate  bool
	)
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Reconstruct the on-chain order book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if depth < 0 {
				return fmt.Errorf("--depth must be >= 0")
			}
			address, err := a.market(marketFlag)
			if err != nil {
				return err
			}
			m, err := a.loader.LoadMarket(cmd.Context(), address)
			if err != nil {
				return err
			}
			units, err := dex.MarketUnits(m)
			if err != nil {
				return err
			}
			sides := a.loader.LoadBookSides(cmd.Context(), m)
			if err := sides.Err(); err != nil {
				return err
			}
			b := book.Reconstruct(sides.Bids, sides.Asks)
			if depth > 0 {
				b = b.Depth(depth)
			}
			if aggregate {
				return printJSON(cmd.OutOrStdout(), aggregatedBook(b, units))
			}
			return printJSON(cmd.OutOrStdout(), b.ToUI(units))
		},
	}
	cmd.Flags().StringVar(&marketFlag, "market", "", "market address (defaults to FRM_MARKET)")
	cmd.Flags().IntVar(&depth, "depth", 0, "orders per side, 0 for all")
	cmd.Flags().BoolVar(&aggregate, "aggregate", false, "group orders by price")
	return cmd
}

type aggregatedLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Orders   int    `json:"orders"`
}

type aggregatedView struct {
	Bids []aggregatedLevel `json:"bids"`
	Asks []aggregatedLevel `json:"asks"`
}

func aggregatedBook(b book.Book, units dex.Units) aggregatedView {
	convert := func(levels []book.Level) []aggregatedLevel {
		grouped := book.Aggregate(levels)
		out := make([]aggregatedLevel, 0, len(grouped))
		for _, level := range grouped {
			out = append(out, aggregatedLevel{
				Price:    units.PriceLotsToUI(level.Price).String(),
				Quantity: units.BaseLotsToUI(level.Quantity).String(),
				Orders:   level.Orders,
			})
		}
		return out
	}
	return aggregatedView{Bids: convert(b.Bids), Asks: convert(b.Asks)}
}

func newOrdersCmd(a *app) *cobra.Command {
	var (
		marketFlag      string
		ownerFlag       string
		finalizableOnly bool
	)
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Reconcile an owner's open orders against the event heap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			address, err := a.market(marketFlag)
			if err != nil {
				return err
			}
			owner, err := a.owner(ownerFlag)
			if err != nil {
				return err
			}
			m, err := a.loader.LoadMarket(ctx, address)
			if err != nil {
				return err
			}

			locator := chain.NewOpenOrdersLocator(a.loader, a.cfg.Chain.DexProgramID)
			account, found, err := locator.Locate(ctx, owner, address)
			if err != nil {
				return err
			}
			if !found {
				return printJSON(cmd.OutOrStdout(), []watcher.OrderStatusRecord{})
			}
			oo, err := a.loader.LoadOpenOrders(ctx, account)
			if err != nil {
				return err
			}
			heap, err := a.loader.LoadEventHeap(ctx, m.EventHeap)
			if err != nil {
				return err
			}
			statuses, err := reconcile.Reconcile(account, oo, heap)
			if err != nil {
				return err
			}
			if finalizableOnly {
				statuses = reconcile.Finalizable(statuses)
			}
			return printJSON(cmd.OutOrStdout(), watcher.NewOrderStatusRecords(address, owner, account, statuses, a.now()))
		},
	}
	cmd.Flags().StringVar(&marketFlag, "market", "", "market address (defaults to FRM_MARKET)")
	cmd.Flags().StringVar(&ownerFlag, "owner", "", "wallet owner (defaults to the configured keypair)")
	cmd.Flags().BoolVar(&finalizableOnly, "finalizable", false, "only print orders that can be settled")
	return cmd
}

type consumeAccount struct {
	Account string `json:"account"`
	Slots   []int  `json:"slots"`
}

type consumeView struct {
	Market    string           `json:"market"`
	EventHeap string           `json:"event_heap"`
	Pending   uint16           `json:"pending"`
	Accounts  []consumeAccount `json:"accounts"`
}

func newConsumeCmd(a *app) *cobra.Command {
	var (
		marketFlag  string
		accountFlag string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "List the open-orders accounts and heap slots a consume-events crank would settle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			ctx := cmd.Context()
			address, err := a.market(marketFlag)
			if err != nil {
				return err
			}
			m, err := a.loader.LoadMarket(ctx, address)
			if err != nil {
				return err
			}
			heap, err := a.loader.LoadEventHeap(ctx, m.EventHeap)
			if err != nil {
				return err
			}

			var accounts []solana.PublicKey
			if accountFlag != "" {
				pk, err := solana.PublicKeyFromBase58(accountFlag)
				if err != nil {
					return fmt.Errorf("invalid account %q: %w", accountFlag, err)
				}
				accounts = []solana.PublicKey{pk}
			} else {
				accounts = reconcile.AccountsToConsume(heap, limit)
			}

			view := consumeView{
				Market:    address.String(),
				EventHeap: m.EventHeap.String(),
				Pending:   heap.Header.Count,
				Accounts:  make([]consumeAccount, 0, len(accounts)),
			}
			for _, account := range accounts {
				view.Accounts = append(view.Accounts, consumeAccount{
					Account: account.String(),
					Slots:   reconcile.SlotsToConsume(heap, account),
				})
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().StringVar(&marketFlag, "market", "", "market address (defaults to FRM_MARKET)")
	cmd.Flags().StringVar(&accountFlag, "account", "", "only list slots for this open-orders account")
	cmd.Flags().IntVar(&limit, "limit", reconcile.MaxConsumeAccounts, "maximum accounts to list")
	return cmd
}

// owner resolves --owner, falling back to the configured keypair.
func (a *app) owner(raw string) (solana.PublicKey, error) {
	if raw != "" {
		pk, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("invalid owner %q: %w", raw, err)
		}
		return pk, nil
	}
	signer, err := a.loadSigner()
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("no owner: pass --owner or configure FRM_KEYPAIR_PATH: %w", err)
	}
	return signer.PublicKey(), nil
}
