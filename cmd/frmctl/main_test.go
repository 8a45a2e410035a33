package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/coldbell/frm-dex/client/internal/config"
	"github.com/coldbell/frm-dex/client/internal/dex"
	"github.com/coldbell/frm-dex/client/internal/intent"
	"github.com/coldbell/frm-dex/client/internal/layout"
	"github.com/coldbell/frm-dex/client/internal/sequencer"
	"github.com/coldbell/frm-dex/client/internal/trading"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	programID = solana.MustPublicKeyFromBase58("3LaFxgsYSc27YuEhY7CwkfGyvpcAinmiHcAA5qE399ob")
	marketKey = solana.MustPublicKeyFromBase58("SysvarRent111111111111111111111111111111111")
	ownerKey  = solana.MustPublicKeyFromBase58("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin")
	baseMint  = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	quoteMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	heapKey   = solana.MustPublicKeyFromBase58("SysvarC1ock11111111111111111111111111111111")
	fixedNow  = time.Unix(1_700_000_000, 0)
)

type fakeRPC struct {
	accounts map[solana.PublicKey][]byte
}

func (f *fakeRPC) GetAccountInfoWithOpts(_ context.Context, address solana.PublicKey, _ *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	data, ok := f.accounts[address]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{Owner: programID, Data: rpc.DataBytesOrJSONFromBytes(data)}}, nil
}

func (f *fakeRPC) GetMultipleAccountsWithOpts(context.Context, []solana.PublicKey, *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeRPC) GetProgramAccountsWithOpts(context.Context, solana.PublicKey, *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	return nil, errors.New("not used")
}

type fakeSequencer struct {
	placed   []sequencer.PlaceOrderRequest
	canceled []sequencer.CancelOrderRequest
	err      error
	book     sequencer.Orderbook
}

func (f *fakeSequencer) PlaceOrder(_ context.Context, req sequencer.PlaceOrderRequest) (json.RawMessage, error) {
	f.placed = append(f.placed, req)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"status":"accepted"}`), nil
}

func (f *fakeSequencer) CancelOrder(_ context.Context, req sequencer.CancelOrderRequest) (json.RawMessage, error) {
	f.canceled = append(f.canceled, req)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"status":"canceled"}`), nil
}

func (f *fakeSequencer) GetOrderbook(context.Context) (sequencer.Orderbook, error) {
	return f.book, f.err
}

func testApp(t *testing.T, seq *fakeSequencer) *app {
	t.Helper()
	data, err := layout.EncodeMarket(&layout.Market{
		BaseDecimals:      9,
		QuoteDecimals:     6,
		BaseLotSize:       1_000_000,
		QuoteLotSize:      100,
		BaseMint:          baseMint,
		QuoteMint:         quoteMint,
		EventHeap:         heapKey,
		BaseDepositTotal:  2_500_000_000,
		QuoteDepositTotal: 1_000_000,
	})
	require.NoError(t, err)

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	signer, err := intent.NewKeypairSigner(key)
	require.NoError(t, err)

	return &app{
		cfg: config.ClientConfig{
			Chain: config.ChainConfig{
				Commitment:   rpc.CommitmentConfirmed,
				RPCTimeout:   time.Second,
				DexProgramID: programID,
				Market:       marketKey,
			},
			Intent: config.IntentConfig{Expiry: time.Hour},
		},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		rpc:       &fakeRPC{accounts: map[solana.PublicKey][]byte{marketKey: data}},
		submitter: seq,
		orderbook: seq,
		signer:    signer,
		now:       func() time.Time { return fixedNow },
	}
}

func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestDeriveCommand(t *testing.T) {
	out, err := run(t, testApp(t, &fakeSequencer{}), "derive", "open-orders", ownerKey.String(), "1")
	require.NoError(t, err)

	want, bump, err := dex.DeriveOpenOrdersPDA(programID, ownerKey, 1)
	require.NoError(t, err)
	var got derivedAddress
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, derivedAddress{Kind: "open-orders", Program: programID.String(), Address: want.String(), Bump: bump}, got)
}

func TestDeriveCommandErrors(t *testing.T) {
	a := testApp(t, &fakeSequencer{})

	_, err := run(t, a, "derive", "vault-state", baseMint.String())
	assert.ErrorContains(t, err, "FRM_VAULT_PROGRAM_ID")

	_, err = run(t, a, "derive", "open-orders", ownerKey.String())
	assert.ErrorIs(t, err, dex.ErrDerivation)

	_, err = run(t, a, "derive", "nonsense")
	assert.ErrorIs(t, err, dex.ErrDerivation)

	out, err := run(t, a, "derive", "vault-state", baseMint.String(), "--program", programID.String())
	require.NoError(t, err)
	assert.Contains(t, out, `"kind": "vault-state"`)
}

func TestParseSeeds(t *testing.T) {
	seeds, err := parseSeeds([]string{ownerKey.String(), "7"})
	require.NoError(t, err)
	assert.Equal(t, []dex.Seed{dex.AddressSeed(ownerKey), dex.IndexSeed(7)}, seeds)

	_, err = parseSeeds([]string{"not-an-address"})
	assert.Error(t, err)
}

func TestBuildOrderIntentConvertsUIAmounts(t *testing.T) {
	units, err := dex.NewUnits(9, 6, 1_000_000, 100)
	require.NoError(t, err)

	o, err := buildOrderIntent(placeFlags{side: "bid", price: "10.5", qty: "0.002", orderID: 9}, units, time.Hour, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, intent.OrderIntent{
		OrderID:  9,
		Side:     intent.SideBuy,
		Price:    105,
		Quantity: 2,
		Expiry:   uint64(fixedNow.Add(time.Hour).Unix()),
	}, o)

	o, err = buildOrderIntent(placeFlags{side: "ask", price: "105", qty: "2", lots: true, expiry: time.Minute}, units, time.Hour, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, uint64(105), o.Price)
	assert.Equal(t, uint64(2), o.Quantity)
	assert.Equal(t, uint64(fixedNow.Add(time.Minute).Unix()), o.Expiry)
	assert.NotZero(t, o.OrderID)
}

func TestBuildOrderIntentRejectsBadAmounts(t *testing.T) {
	units, err := dex.NewUnits(9, 6, 1_000_000, 100)
	require.NoError(t, err)

	cases := []placeFlags{
		{side: "up", price: "1", qty: "1"},
		{side: "bid", price: "ten", qty: "1"},
		{side: "bid", price: "1", qty: "0.0000001"},
		{side: "bid", price: "-1", qty: "1"},
		{side: "bid", price: "1.5", qty: "1", lots: true},
		{side: "bid", price: "1", qty: "1", expiry: -time.Second},
	}
	for _, flags := range cases {
		_, err := buildOrderIntent(flags, units, time.Hour, fixedNow)
		assert.Error(t, err, "%+v", flags)
	}
}

func TestPlaceCommandSubmitsSignedIntent(t *testing.T) {
	seq := &fakeSequencer{}
	a := testApp(t, seq)

	out, err := run(t, a, "place", "--side", "bid", "--price", "10.5", "--qty", "0.002", "--order-id", "77")
	require.NoError(t, err)
	require.Len(t, seq.placed, 1)

	req := seq.placed[0]
	assert.Equal(t, uint64(77), req.Intent.OrderID)
	assert.Equal(t, uint64(105), req.Intent.Price)
	assert.Equal(t, uint64(2), req.Intent.Quantity)
	assert.Equal(t, a.signer.PublicKey().String(), req.Intent.Owner)
	assert.Equal(t, baseMint.String(), req.Intent.BaseMint)
	assert.Equal(t, quoteMint.String(), req.Intent.QuoteMint)

	var view submissionView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, trading.StateAccepted, view.State)
	assert.Equal(t, req.Signature, view.Signature)
	assert.JSONEq(t, `{"status":"accepted"}`, string(view.Response))
}

func TestPlaceCommandDryRunDoesNotSubmit(t *testing.T) {
	seq := &fakeSequencer{}
	out, err := run(t, testApp(t, seq), "place", "--side", "ask", "--price", "10", "--qty", "1", "--dry-run")
	require.NoError(t, err)
	assert.Empty(t, seq.placed)

	var view submissionView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, trading.StateSigned, view.State)
	assert.Len(t, view.Digest, 64)
}

func TestPlaceCommandRequiresFlags(t *testing.T) {
	_, err := run(t, testApp(t, &fakeSequencer{}), "place", "--side", "bid")
	assert.Error(t, err)
}

func TestCancelCommandReportsTimeout(t *testing.T) {
	seq := &fakeSequencer{err: sequencer.ErrTimeout}
	out, err := run(t, testApp(t, seq), "cancel", "--order-id", "42")
	require.Error(t, err)
	require.Len(t, seq.canceled, 1)
	assert.Equal(t, uint64(42), seq.canceled[0].OrderID)

	var view submissionView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, trading.StateTimedOut, view.State)
	assert.NotEmpty(t, view.Error)
}

func TestSequencerBookCommand(t *testing.T) {
	seq := &fakeSequencer{book: sequencer.Orderbook{Buys: []sequencer.Order{{OrderID: 1, Price: 100}}, Sells: []sequencer.Order{}}}
	out, err := run(t, testApp(t, seq), "sequencer-book")
	require.NoError(t, err)

	var got sequencer.Orderbook
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, seq.book, got)
}

func TestMarketCommand(t *testing.T) {
	out, err := run(t, testApp(t, &fakeSequencer{}), "market")
	require.NoError(t, err)

	var got marketSummary
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, marketKey.String(), got.Address)
	assert.Equal(t, baseMint.String(), got.BaseMint)
	assert.Equal(t, int64(1_000_000), got.BaseLotSize)
	assert.Equal(t, "2.5", got.BaseDeposits)
	assert.Equal(t, "1", got.QuoteDeposits)
	eventAuthority, _, err := dex.DeriveEventAuthorityPDA(programID)
	require.NoError(t, err)
	assert.Equal(t, eventAuthority.String(), got.EventAuthority)
	marketAuthority, _, err := dex.DeriveMarketAuthorityPDA(programID, marketKey)
	require.NoError(t, err)
	assert.Equal(t, marketAuthority.String(), got.MarketAuthority)

	_, err = run(t, testApp(t, &fakeSequencer{}), "market", "--market", ownerKey.String())
	assert.ErrorContains(t, err, "account not found")
}

func TestOrdersCommandWithoutOpenOrdersAccount(t *testing.T) {
	out, err := run(t, testApp(t, &fakeSequencer{}), "orders", "--owner", ownerKey.String())
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)

	_, err = run(t, testApp(t, &fakeSequencer{}), "orders", "--owner", "nope")
	assert.ErrorContains(t, err, "invalid owner")
}

func TestConsumeCommandListsAccountsAndSlots(t *testing.T) {
	a := testApp(t, &fakeSequencer{})
	heap, err := layout.EncodeEventHeap(&layout.EventHeap{
		Header: layout.EventHeapHeader{UsedHead: 0, Count: 3},
		Slots: []layout.EventSlot{
			{Index: 0, Next: 1, Event: layout.FillEvent{Timestamp: 1, Maker: ownerKey, Taker: baseMint, Quantity: 1, Price: 10}},
			{Index: 1, Next: 2, Event: layout.OutEvent{Timestamp: 2, Owner: quoteMint, Quantity: 1}},
			{Index: 2, Next: 3, Event: layout.OutEvent{Timestamp: 3, Owner: ownerKey, Quantity: 1}},
		},
	})
	require.NoError(t, err)
	a.rpc.(*fakeRPC).accounts[heapKey] = heap

	out, err := run(t, a, "consume")
	require.NoError(t, err)
	var got consumeView
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, uint16(3), got.Pending)
	assert.Equal(t, []consumeAccount{
		{Account: ownerKey.String(), Slots: []int{0, 2}},
		{Account: quoteMint.String(), Slots: []int{1}},
	}, got.Accounts)

	out, err = run(t, a, "consume", "--limit", "1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Accounts, 1)

	out, err = run(t, a, "consume", "--account", quoteMint.String())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []consumeAccount{{Account: quoteMint.String(), Slots: []int{1}}}, got.Accounts)

	_, err = run(t, a, "consume", "--limit", "-1")
	assert.Error(t, err)
}
