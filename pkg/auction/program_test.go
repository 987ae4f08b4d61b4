package auction

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/code-auction/pkg/ledger"
	"github.com/code-payments/code-auction/pkg/ledger/account"
	"github.com/code-payments/code-auction/pkg/ledger/account/memory"
	"github.com/code-payments/code-auction/pkg/solana"
	"github.com/code-payments/code-auction/pkg/solana/system"
	"github.com/code-payments/code-auction/pkg/solana/token"
	"github.com/code-payments/code-auction/pkg/testutil"
)

const startingLamports = 1_000_000_000

type testEnv struct {
	bank  *ledger.Bank
	store account.Store
	clock *ledger.ManualClock

	programID ed25519.PublicKey
	authority ed25519.PublicKey

	collectibleMint ed25519.PublicKey
	currencyMint    ed25519.PublicKey
}

type testExhibitor struct {
	owner              ed25519.PrivateKey
	collectibleSource  ed25519.PublicKey
	payoutDestination  ed25519.PublicKey
	collectibleCustody ed25519.PrivateKey
	escrow             ed25519.PrivateKey
}

type testBidder struct {
	owner                  ed25519.PrivateKey
	currencySource         ed25519.PublicKey
	collectibleDestination ed25519.PublicKey
}

func setup(t *testing.T) *testEnv {
	mints := testutil.GenerateSolanaKeys(t, 2)
	env := &testEnv{
		store:           memory.New(),
		clock:           ledger.NewManualClock(time.Unix(1000, 0)),
		programID:       testutil.GenerateSolanaKeys(t, 1)[0],
		collectibleMint: mints[0],
		currencyMint:    mints[1],
	}

	env.bank = ledger.NewBank(env.store, nil, env.clock, ledger.WithEnvConfigs())
	require.NoError(t, env.bank.RegisterProgram(env.programID, NewProgram()))

	authority, _, err := GetCustodyAuthority(env.programID)
	require.NoError(t, err)
	env.authority = authority

	return env
}

func (e *testEnv) newExhibitor(t *testing.T) *testExhibitor {
	ex := &testExhibitor{
		owner:              testutil.GenerateSolanaKeypair(t),
		collectibleCustody: testutil.GenerateSolanaKeypair(t),
		escrow:             testutil.GenerateSolanaKeypair(t),
	}
	keys := testutil.GenerateSolanaKeys(t, 2)
	ex.collectibleSource, ex.payoutDestination = keys[0], keys[1]

	testutil.FundAccount(t, e.store, pub(ex.owner), startingLamports)
	testutil.CreateTokenAccount(t, e.store, ex.collectibleSource, e.collectibleMint, pub(ex.owner), 1)
	testutil.CreateTokenAccount(t, e.store, ex.payoutDestination, e.currencyMint, pub(ex.owner), 0)
	return ex
}

func (e *testEnv) newBidder(t *testing.T, balance uint64) *testBidder {
	b := &testBidder{
		owner: testutil.GenerateSolanaKeypair(t),
	}
	keys := testutil.GenerateSolanaKeys(t, 2)
	b.currencySource, b.collectibleDestination = keys[0], keys[1]

	testutil.FundAccount(t, e.store, pub(b.owner), startingLamports)
	testutil.CreateTokenAccount(t, e.store, b.currencySource, e.currencyMint, pub(b.owner), balance)
	testutil.CreateTokenAccount(t, e.store, b.collectibleDestination, e.collectibleMint, pub(b.owner), 0)
	return b
}

func (e *testEnv) execute(t *testing.T, signers []ed25519.PrivateKey, instructions ...solana.Instruction) (*ledger.ExecutionResult, error) {
	txn := solana.NewTransaction(pub(signers[0]), instructions...)
	require.NoError(t, txn.Sign(signers...))
	return e.bank.ExecuteTransaction(context.Background(), txn)
}

func (e *testEnv) open(t *testing.T, ex *testExhibitor, initialPrice, duration uint64) (*ledger.ExecutionResult, error) {
	return e.openWithEscrowLamports(t, ex, initialPrice, duration, system.DefaultRent.MinimumBalance(RecordSize))
}

func (e *testEnv) openWithEscrowLamports(t *testing.T, ex *testExhibitor, initialPrice, duration, escrowLamports uint64) (*ledger.ExecutionResult, error) {
	return e.openWith(t, ex, initialPrice, duration, escrowLamports, nil)
}

// openWith opens an auction, running prepare against the freshly initialized
// collectible custody before the Open instruction.
func (e *testEnv) openWith(t *testing.T, ex *testExhibitor, initialPrice, duration, escrowLamports uint64, prepare []solana.Instruction, edit ...func(*OpenAccounts)) (*ledger.ExecutionResult, error) {
	accounts := &OpenAccounts{
		Exhibitor:          pub(ex.owner),
		CollectibleSource:  ex.collectibleSource,
		CollectibleCustody: pub(ex.collectibleCustody),
		PayoutDestination:  ex.payoutDestination,
		Escrow:             pub(ex.escrow),
	}
	for _, fn := range edit {
		fn(accounts)
	}

	instructions := []solana.Instruction{
		system.CreateAccount(pub(ex.owner), pub(ex.escrow), e.programID, escrowLamports, RecordSize),
		system.CreateAccount(pub(ex.owner), pub(ex.collectibleCustody), token.ProgramKey, system.DefaultRent.MinimumBalance(token.AccountSize), token.AccountSize),
		token.InitializeAccount(pub(ex.collectibleCustody), e.collectibleMint, pub(ex.owner)),
	}
	instructions = append(instructions, prepare...)
	instructions = append(instructions, NewOpenInstruction(e.programID, accounts, initialPrice, duration))

	return e.execute(t, []ed25519.PrivateKey{ex.owner, ex.escrow, ex.collectibleCustody}, instructions...)
}

// bid places a bid against the currently stored record, letting edit alter
// the instruction's accounts before submission.
func (e *testEnv) bid(t *testing.T, b *testBidder, ex *testExhibitor, price uint64, edit ...func(*BidAccounts)) (*ledger.ExecutionResult, error) {
	return e.bidWith(t, b, ex, price, testutil.GenerateSolanaKeypair(t), nil, edit...)
}

// bidWith is bid using the given custody keypair, running prepare against the
// freshly initialized custody before the Bid instruction.
func (e *testEnv) bidWith(t *testing.T, b *testBidder, ex *testExhibitor, price uint64, custody ed25519.PrivateKey, prepare []solana.Instruction, edit ...func(*BidAccounts)) (*ledger.ExecutionResult, error) {
	record := e.getRecord(t, ex)

	accounts := &BidAccounts{
		Bidder:                          pub(b.owner),
		PreviousBidder:                  record.HighestBidder,
		PreviousBidderCurrencyCustody:   record.HighestBidderCurrencyCustody,
		PreviousBidderRefundDestination: record.HighestBidderRefundDestination,
		CurrencyCustody:                 pub(custody),
		CurrencySource:                  b.currencySource,
		Escrow:                          pub(ex.escrow),
		CustodyAuthority:                e.authority,
	}
	for _, fn := range edit {
		fn(accounts)
	}

	instructions := []solana.Instruction{
		system.CreateAccount(pub(b.owner), pub(custody), token.ProgramKey, system.DefaultRent.MinimumBalance(token.AccountSize), token.AccountSize),
		token.InitializeAccount(pub(custody), e.currencyMint, pub(b.owner)),
	}
	instructions = append(instructions, prepare...)
	instructions = append(instructions, NewBidInstruction(e.programID, accounts, price))

	return e.execute(t, []ed25519.PrivateKey{b.owner, custody}, instructions...)
}

func (e *testEnv) cancel(t *testing.T, signer ed25519.PrivateKey, ex *testExhibitor) (*ledger.ExecutionResult, error) {
	return e.execute(
		t,
		[]ed25519.PrivateKey{signer},
		NewCancelInstruction(e.programID, &CancelAccounts{
			Exhibitor:          pub(signer),
			CollectibleCustody: pub(ex.collectibleCustody),
			ReturnDestination:  ex.collectibleSource,
			Escrow:             pub(ex.escrow),
			CustodyAuthority:   e.authority,
		}),
	)
}

func (e *testEnv) close(t *testing.T, b *testBidder, ex *testExhibitor, edit ...func(*CloseAccounts)) (*ledger.ExecutionResult, error) {
	record := e.getRecord(t, ex)

	accounts := &CloseAccounts{
		Bidder:                 pub(b.owner),
		Exhibitor:              pub(ex.owner),
		CollectibleCustody:     pub(ex.collectibleCustody),
		PayoutDestination:      ex.payoutDestination,
		CurrencyCustody:        record.HighestBidderCurrencyCustody,
		CollectibleDestination: b.collectibleDestination,
		Escrow:                 pub(ex.escrow),
		CustodyAuthority:       e.authority,
	}
	for _, fn := range edit {
		fn(accounts)
	}

	return e.execute(t, []ed25519.PrivateKey{b.owner}, NewCloseInstruction(e.programID, accounts))
}

func (e *testEnv) getRecord(t *testing.T, ex *testExhibitor) *Record {
	record, err := e.store.Get(context.Background(), pub(ex.escrow))
	require.NoError(t, err)

	state, err := ParseState(record.Data)
	require.NoError(t, err)
	require.True(t, state.IsActive())
	return state.Record
}

func pub(key ed25519.PrivateKey) ed25519.PublicKey {
	return key.Public().(ed25519.PublicKey)
}

func TestProgram_HappyPath(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)
	b1 := env.newBidder(t, 1_000)
	b2 := env.newBidder(t, 1_000)

	custodyRent := system.DefaultRent.MinimumBalance(token.AccountSize)
	escrowRent := system.DefaultRent.MinimumBalance(RecordSize)

	result, err := env.open(t, ex, 100, 3600)
	require.NoError(t, err)
	assert.Contains(t, result.Logs, "Program log: Initializing Auction...")

	record := env.getRecord(t, ex)
	assert.Equal(t, pub(ex.owner), record.Exhibitor)
	assert.Equal(t, pub(ex.collectibleCustody), record.ExhibitedItemCustody)
	assert.Equal(t, ex.payoutDestination, record.PayoutDestination)
	assert.EqualValues(t, 100, record.CurrentPrice)
	assert.EqualValues(t, 4600, record.AuctionEnd)
	assert.False(t, record.HasBid())
	assert.Equal(t, NullIdentity, record.HighestBidderCurrencyCustody)

	collectibleCustody := testutil.GetTokenAccount(t, env.store, pub(ex.collectibleCustody))
	assert.EqualValues(t, 1, collectibleCustody.Amount)
	assert.Equal(t, env.authority, collectibleCustody.Owner)
	assert.EqualValues(t, 0, testutil.GetTokenAccount(t, env.store, ex.collectibleSource).Amount)

	// First bid.
	env.clock.Set(time.Unix(2000, 0))
	_, err = env.bid(t, b1, ex, 150)
	require.NoError(t, err)

	record = env.getRecord(t, ex)
	assert.EqualValues(t, 150, record.CurrentPrice)
	assert.Equal(t, pub(b1.owner), record.HighestBidder)
	assert.Equal(t, b1.currencySource, record.HighestBidderRefundDestination)
	b1Custody := record.HighestBidderCurrencyCustody

	held := testutil.GetTokenAccount(t, env.store, b1Custody)
	assert.EqualValues(t, 150, held.Amount)
	assert.Equal(t, env.authority, held.Owner)
	assert.EqualValues(t, 850, testutil.GetTokenAccount(t, env.store, b1.currencySource).Amount)

	// Underbid.
	_, err = env.bid(t, b2, ex, 120)
	testutil.AssertCustomError(t, err, ErrInsufficientBidPrice.ToCustomError())

	// Outbid, refunding b1 exactly its price and its custody rent.
	b1Lamports := testutil.GetLamports(t, env.store, pub(b1.owner))
	_, err = env.bid(t, b2, ex, 200)
	require.NoError(t, err)

	record = env.getRecord(t, ex)
	assert.EqualValues(t, 200, record.CurrentPrice)
	assert.Equal(t, pub(b2.owner), record.HighestBidder)
	assert.EqualValues(t, 1_000, testutil.GetTokenAccount(t, env.store, b1.currencySource).Amount)
	assert.EqualValues(t, 800, testutil.GetTokenAccount(t, env.store, b2.currencySource).Amount)
	testutil.RequireAccountClosed(t, env.store, b1Custody)
	assert.Equal(t, b1Lamports+custodyRent, testutil.GetLamports(t, env.store, pub(b1.owner)))

	// Settlement before the auction ends.
	env.clock.Set(time.Unix(4000, 0))
	result, err = env.close(t, b2, ex)
	testutil.AssertCustomError(t, err, ErrActiveAuction.ToCustomError())
	assert.Contains(t, err.Error(), "600 seconds")
	assert.Contains(t, result.Logs, "Program log: Auction will end in 600 seconds")

	// Settlement.
	env.clock.Set(time.Unix(4700, 0))
	exhibitorLamports := testutil.GetLamports(t, env.store, pub(ex.owner))
	b2Lamports := testutil.GetLamports(t, env.store, pub(b2.owner))
	b2Custody := record.HighestBidderCurrencyCustody

	_, err = env.close(t, b2, ex)
	require.NoError(t, err)

	assert.EqualValues(t, 1, testutil.GetTokenAccount(t, env.store, b2.collectibleDestination).Amount)
	assert.EqualValues(t, 200, testutil.GetTokenAccount(t, env.store, ex.payoutDestination).Amount)
	testutil.RequireAccountClosed(t, env.store, b2Custody)
	testutil.RequireAccountClosed(t, env.store, pub(ex.collectibleCustody))
	testutil.RequireAccountClosed(t, env.store, pub(ex.escrow))
	assert.Equal(t, exhibitorLamports+escrowRent+custodyRent, testutil.GetLamports(t, env.store, pub(ex.owner)))
	assert.Equal(t, b2Lamports+custodyRent, testutil.GetLamports(t, env.store, pub(b2.owner)))
}

func TestProgram_MonotonicPrice(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)

	_, err := env.open(t, ex, 10, 3600)
	require.NoError(t, err)

	bidders := make([]*testBidder, 5)
	for i := range bidders {
		bidders[i] = env.newBidder(t, 1_000)
	}

	var last uint64 = 10
	for i, b := range bidders {
		price := uint64(20 * (i + 1))

		// Matching the current price is never enough.
		_, err := env.bid(t, b, ex, last)
		testutil.AssertCustomError(t, err, ErrInsufficientBidPrice.ToCustomError())

		_, err = env.bid(t, b, ex, price)
		require.NoError(t, err)

		record := env.getRecord(t, ex)
		assert.True(t, record.CurrentPrice > last)
		last = record.CurrentPrice

		// Everyone outbid so far holds their full balance again.
		for _, previous := range bidders[:i] {
			assert.EqualValues(t, 1_000, testutil.GetTokenAccount(t, env.store, previous.currencySource).Amount)
		}
		assert.EqualValues(t, 1_000-price, testutil.GetTokenAccount(t, env.store, b.currencySource).Amount)
	}
}

func TestProgram_OpenNotRentExempt(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)

	result, err := env.openWithEscrowLamports(t, ex, 100, 3600, system.DefaultRent.MinimumBalance(RecordSize)-1)
	testutil.AssertCustomError(t, err, ErrNotRentExempt.ToCustomError())
	assert.Contains(t, result.Logs, "Program log: Error: NotRentExempt")

	// Nothing moved.
	assert.EqualValues(t, startingLamports, testutil.GetLamports(t, env.store, pub(ex.owner)))
	testutil.RequireAccountClosed(t, env.store, pub(ex.escrow))
	assert.EqualValues(t, 1, testutil.GetTokenAccount(t, env.store, ex.collectibleSource).Amount)
}

func TestProgram_OpenAlreadyInitialized(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)

	_, err := env.open(t, ex, 100, 3600)
	require.NoError(t, err)

	testutil.CreateTokenAccount(t, env.store, ex.collectibleSource, env.collectibleMint, pub(ex.owner), 1)
	custody := testutil.GenerateSolanaKeypair(t)
	_, err = env.execute(
		t,
		[]ed25519.PrivateKey{ex.owner, custody},
		system.CreateAccount(pub(ex.owner), pub(custody), token.ProgramKey, system.DefaultRent.MinimumBalance(token.AccountSize), token.AccountSize),
		token.InitializeAccount(pub(custody), env.collectibleMint, pub(ex.owner)),
		NewOpenInstruction(env.programID, &OpenAccounts{
			Exhibitor:          pub(ex.owner),
			CollectibleSource:  ex.collectibleSource,
			CollectibleCustody: pub(custody),
			PayoutDestination:  ex.payoutDestination,
			Escrow:             pub(ex.escrow),
		}, 1, 1),
	)
	testutil.AssertInstructionError(t, err, solana.ErrAccountAlreadyInitialized)
}

func TestProgram_OpenForeignEscrow(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)

	_, err := env.execute(
		t,
		[]ed25519.PrivateKey{ex.owner, ex.escrow, ex.collectibleCustody},
		system.CreateAccount(pub(ex.owner), pub(ex.escrow), system.SystemAccount, system.DefaultRent.MinimumBalance(RecordSize), RecordSize),
		system.CreateAccount(pub(ex.owner), pub(ex.collectibleCustody), token.ProgramKey, system.DefaultRent.MinimumBalance(token.AccountSize), token.AccountSize),
		token.InitializeAccount(pub(ex.collectibleCustody), env.collectibleMint, pub(ex.owner)),
		NewOpenInstruction(env.programID, &OpenAccounts{
			Exhibitor:          pub(ex.owner),
			CollectibleSource:  ex.collectibleSource,
			CollectibleCustody: pub(ex.collectibleCustody),
			PayoutDestination:  ex.payoutDestination,
			Escrow:             pub(ex.escrow),
		}, 100, 3600),
	)
	testutil.AssertInstructionError(t, err, solana.ErrIncorrectProgramID)
}

func TestProgram_BidInactive(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)
	b := env.newBidder(t, 1_000)

	_, err := env.open(t, ex, 100, 3600)
	require.NoError(t, err)

	for _, now := range []int64{4600, 4601, 10_000} {
		env.clock.Set(time.Unix(now, 0))
		_, err = env.bid(t, b, ex, 999)
		testutil.AssertCustomError(t, err, ErrInactiveAuction.ToCustomError())
	}
	assert.EqualValues(t, 1_000, testutil.GetTokenAccount(t, env.store, b.currencySource).Amount)
}

func TestProgram_BidStaleReferences(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)
	b1 := env.newBidder(t, 1_000)
	b2 := env.newBidder(t, 1_000)
	attacker := env.newBidder(t, 1_000)

	_, err := env.open(t, ex, 100, 3600)
	require.NoError(t, err)
	_, err = env.bid(t, b1, ex, 150)
	require.NoError(t, err)

	for _, tc := range []struct {
		name string
		edit func(*BidAccounts)
	}{
		{"snapshot before first bid", func(a *BidAccounts) {
			a.PreviousBidder = NullIdentity
			a.PreviousBidderCurrencyCustody = NullIdentity
			a.PreviousBidderRefundDestination = NullIdentity
		}},
		{"substituted refund destination", func(a *BidAccounts) {
			a.PreviousBidderRefundDestination = attacker.currencySource
		}},
		{"substituted custody", func(a *BidAccounts) {
			a.PreviousBidderCurrencyCustody = attacker.currencySource
		}},
		{"substituted bidder", func(a *BidAccounts) {
			a.PreviousBidder = pub(attacker.owner)
		}},
		{"wrong custody authority", func(a *BidAccounts) {
			a.CustodyAuthority = pub(attacker.owner)
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.bid(t, b2, ex, 200, tc.edit)
			testutil.AssertCustomError(t, err, ErrInvalidInstruction.ToCustomError())
		})
	}

	record := env.getRecord(t, ex)
	assert.Equal(t, pub(b1.owner), record.HighestBidder)
	assert.EqualValues(t, 150, record.CurrentPrice)
	assert.EqualValues(t, 1_000, testutil.GetTokenAccount(t, env.store, b2.currencySource).Amount)
	assert.EqualValues(t, 1_000, testutil.GetTokenAccount(t, env.store, attacker.currencySource).Amount)
}

func TestProgram_BidAlreadyHighest(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)
	b := env.newBidder(t, 1_000)

	_, err := env.open(t, ex, 100, 3600)
	require.NoError(t, err)
	_, err = env.bid(t, b, ex, 150)
	require.NoError(t, err)

	_, err = env.bid(t, b, ex, 300)
	testutil.AssertCustomError(t, err, ErrAlreadyBid.ToCustomError())
	assert.ErrorIs(t, err, ErrAlreadyBid)

	code, ok := ErrorFromTransaction(err)
	require.True(t, ok)
	assert.Equal(t, ErrAlreadyBid, code)
}

func TestProgram_BidInsufficientFunds(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)
	b := env.newBidder(t, 100)

	_, err := env.open(t, ex, 100, 3600)
	require.NoError(t, err)

	_, err = env.bid(t, b, ex, 150)
	testutil.AssertCustomError(t, err, token.ErrorInsufficientFunds)

	// The token program's code collides with an auction code, but is not one.
	_, ok := ErrorFromTransaction(err)
	assert.False(t, ok)

	record := env.getRecord(t, ex)
	assert.False(t, record.HasBid())
	assert.EqualValues(t, startingLamports, testutil.GetLamports(t, env.store, pub(b.owner)))
}

func TestProgram_Cancel(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)

	_, err := env.open(t, ex, 100, 3600)
	require.NoError(t, err)
	assert.EqualValues(t, 0, testutil.GetTokenAccount(t, env.store, ex.collectibleSource).Amount)

	// Only the exhibitor may cancel.
	other := env.newExhibitor(t)
	_, err = env.cancel(t, other.owner, ex)
	testutil.AssertInstructionError(t, err, solana.ErrInvalidAccountData)

	result, err := env.cancel(t, ex.owner, ex)
	require.NoError(t, err)
	assert.Contains(t, result.Logs, "Program log: Closing the Escrow Account...")

	assert.EqualValues(t, 1, testutil.GetTokenAccount(t, env.store, ex.collectibleSource).Amount)
	testutil.RequireAccountClosed(t, env.store, pub(ex.collectibleCustody))
	testutil.RequireAccountClosed(t, env.store, pub(ex.escrow))
	assert.EqualValues(t, startingLamports, testutil.GetLamports(t, env.store, pub(ex.owner)))

	// A cancelled auction is gone for good.
	_, err = env.cancel(t, ex.owner, ex)
	testutil.AssertInstructionError(t, err, solana.ErrIncorrectProgramID)
}

func TestProgram_CancelAfterBid(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)
	b := env.newBidder(t, 1_000)

	_, err := env.open(t, ex, 100, 3600)
	require.NoError(t, err)
	_, err = env.bid(t, b, ex, 150)
	require.NoError(t, err)

	_, err = env.cancel(t, ex.owner, ex)
	testutil.AssertCustomError(t, err, ErrAlreadyBid.ToCustomError())

	assert.EqualValues(t, 1, testutil.GetTokenAccount(t, env.store, pub(ex.collectibleCustody)).Amount)
	assert.True(t, env.getRecord(t, ex).HasBid())
}

func TestProgram_CloseWithoutBids(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)
	b := env.newBidder(t, 1_000)

	_, err := env.open(t, ex, 100, 3600)
	require.NoError(t, err)

	env.clock.Set(time.Unix(5000, 0))
	_, err = env.execute(
		t,
		[]ed25519.PrivateKey{b.owner},
		NewCloseInstruction(env.programID, &CloseAccounts{
			Bidder:                 pub(b.owner),
			Exhibitor:              pub(ex.owner),
			CollectibleCustody:     pub(ex.collectibleCustody),
			PayoutDestination:      ex.payoutDestination,
			CurrencyCustody:        b.currencySource,
			CollectibleDestination: b.collectibleDestination,
			Escrow:                 pub(ex.escrow),
			CustodyAuthority:       env.authority,
		}),
	)
	testutil.AssertCustomError(t, err, ErrNoBidderFound.ToCustomError())

	// The exhibitor can still recover the collectible.
	_, err = env.cancel(t, ex.owner, ex)
	require.NoError(t, err)
}

func TestProgram_CloseByOutbidBidder(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)
	b1 := env.newBidder(t, 1_000)
	b2 := env.newBidder(t, 1_000)

	_, err := env.open(t, ex, 100, 3600)
	require.NoError(t, err)
	_, err = env.bid(t, b1, ex, 150)
	require.NoError(t, err)
	_, err = env.bid(t, b2, ex, 200)
	require.NoError(t, err)

	env.clock.Set(time.Unix(4600, 0))
	_, err = env.close(t, b1, ex)
	testutil.AssertInstructionError(t, err, solana.ErrInvalidAccountData)

	// Settlement is allowed exactly at the end time.
	_, err = env.close(t, b2, ex)
	require.NoError(t, err)
}

func TestProgram_InvalidInstruction(t *testing.T) {
	env := setup(t)
	payer := testutil.GenerateSolanaKeypair(t)
	testutil.FundAccount(t, env.store, pub(payer), startingLamports)

	for _, data := range [][]byte{
		nil,
		{4},
		{byte(InstructionBid), 1, 2, 3},
		{byte(InstructionCancel), 0},
	} {
		t.Run(fmt.Sprintf("%v", data), func(t *testing.T) {
			result, err := env.execute(t, []ed25519.PrivateKey{payer}, solana.NewInstruction(env.programID, data, solana.NewAccountMeta(pub(payer), true)))
			testutil.AssertCustomError(t, err, ErrInvalidInstruction.ToCustomError())
			assert.Contains(t, result.Logs, "Program log: Error: InvalidInstruction")
		})
	}
}

func TestProgram_NotEnoughAccounts(t *testing.T) {
	env := setup(t)
	payer := testutil.GenerateSolanaKeypair(t)
	testutil.FundAccount(t, env.store, pub(payer), startingLamports)

	_, err := env.execute(t, []ed25519.PrivateKey{payer}, solana.NewInstruction(env.programID, []byte{byte(InstructionCancel)}, solana.NewAccountMeta(pub(payer), true)))
	testutil.AssertInstructionError(t, err, solana.ErrNotEnoughAccountKeys)
}

func TestProgram_OpenDurationOverflow(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)

	// The clock reads 1000, so the latest representable end is MaxInt64.
	_, err := env.open(t, ex, 100, math.MaxInt64-999)
	testutil.AssertCustomError(t, err, ErrAmountOverflow.ToCustomError())

	_, err = env.open(t, ex, 100, math.MaxUint64)
	testutil.AssertCustomError(t, err, ErrAmountOverflow.ToCustomError())
	assert.EqualValues(t, 1, testutil.GetTokenAccount(t, env.store, ex.collectibleSource).Amount)

	_, err = env.open(t, ex, 100, math.MaxInt64-1000)
	require.NoError(t, err)
	assert.EqualValues(t, int64(math.MaxInt64), env.getRecord(t, ex).AuctionEnd)
}

func TestProgram_OpenCustodyChecks(t *testing.T) {
	for _, tc := range []struct {
		name    string
		prepare func(t *testing.T, env *testEnv, ex *testExhibitor) []solana.Instruction
		edit    func(ex *testExhibitor) func(*OpenAccounts)
	}{
		{
			name: "custody is the collectible source",
			edit: func(ex *testExhibitor) func(*OpenAccounts) {
				return func(a *OpenAccounts) {
					a.CollectibleCustody = ex.collectibleSource
				}
			},
		},
		{
			name: "retained close authority",
			prepare: func(_ *testing.T, _ *testEnv, ex *testExhibitor) []solana.Instruction {
				return []solana.Instruction{
					token.SetAuthority(pub(ex.collectibleCustody), pub(ex.owner), pub(ex.owner), token.AuthorityTypeCloseAccount),
				}
			},
		},
		{
			name: "prefunded custody",
			prepare: func(t *testing.T, env *testEnv, ex *testExhibitor) []solana.Instruction {
				// A second collectible already sits in the custody account.
				extra := testutil.GenerateSolanaKeys(t, 1)[0]
				testutil.CreateTokenAccount(t, env.store, extra, env.collectibleMint, pub(ex.owner), 1)
				return []solana.Instruction{
					token.Transfer(extra, pub(ex.collectibleCustody), pub(ex.owner), 1),
				}
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := setup(t)
			ex := env.newExhibitor(t)

			var prepare []solana.Instruction
			if tc.prepare != nil {
				prepare = tc.prepare(t, env, ex)
			}
			var edits []func(*OpenAccounts)
			if tc.edit != nil {
				edits = append(edits, tc.edit(ex))
			}

			_, err := env.openWith(t, ex, 100, 3600, system.DefaultRent.MinimumBalance(RecordSize), prepare, edits...)
			testutil.AssertCustomError(t, err, ErrInvalidInstruction.ToCustomError())

			assert.EqualValues(t, 1, testutil.GetTokenAccount(t, env.store, ex.collectibleSource).Amount)
			testutil.RequireAccountClosed(t, env.store, pub(ex.escrow))
		})
	}
}

func TestProgram_BidCustodyAliasing(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)
	b1 := env.newBidder(t, 1_000)
	b2 := env.newBidder(t, 1_000)

	_, err := env.open(t, ex, 100, 3600)
	require.NoError(t, err)

	// The first bid cannot use its own source as custody either.
	_, err = env.bid(t, b1, ex, 150, func(a *BidAccounts) {
		a.CurrencyCustody = b1.currencySource
	})
	testutil.AssertCustomError(t, err, ErrInvalidInstruction.ToCustomError())
	assert.False(t, env.getRecord(t, ex).HasBid())

	_, err = env.bid(t, b1, ex, 150)
	require.NoError(t, err)
	record := env.getRecord(t, ex)

	for _, tc := range []struct {
		name    string
		custody ed25519.PublicKey
	}{
		{"currency source", b2.currencySource},
		{"previous custody", record.HighestBidderCurrencyCustody},
		{"previous refund destination", record.HighestBidderRefundDestination},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.bid(t, b2, ex, 200, func(a *BidAccounts) {
				a.CurrencyCustody = tc.custody
			})
			testutil.AssertCustomError(t, err, ErrInvalidInstruction.ToCustomError())
		})
	}

	assert.Equal(t, record, env.getRecord(t, ex))
	assert.EqualValues(t, 1_000, testutil.GetTokenAccount(t, env.store, b2.currencySource).Amount)

	// An honest bid still goes through and refunds b1.
	_, err = env.bid(t, b2, ex, 200)
	require.NoError(t, err)
	assert.Equal(t, pub(b2.owner), env.getRecord(t, ex).HighestBidder)
	assert.EqualValues(t, 1_000, testutil.GetTokenAccount(t, env.store, b1.currencySource).Amount)
	testutil.RequireAccountClosed(t, env.store, record.HighestBidderCurrencyCustody)
}

func TestProgram_BidCustodyState(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)
	b1 := env.newBidder(t, 1_000)
	b2 := env.newBidder(t, 1_000)

	_, err := env.open(t, ex, 100, 3600)
	require.NoError(t, err)

	for _, tc := range []struct {
		name    string
		prepare func(custody ed25519.PublicKey) []solana.Instruction
	}{
		{"retained close authority", func(custody ed25519.PublicKey) []solana.Instruction {
			return []solana.Instruction{
				token.SetAuthority(custody, pub(b1.owner), pub(b1.owner), token.AuthorityTypeCloseAccount),
			}
		}},
		{"prefunded custody", func(custody ed25519.PublicKey) []solana.Instruction {
			return []solana.Instruction{
				token.Transfer(b1.currencySource, custody, pub(b1.owner), 10),
			}
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			custody := testutil.GenerateSolanaKeypair(t)
			_, err := env.bidWith(t, b1, ex, 150, custody, tc.prepare(pub(custody)))
			testutil.AssertCustomError(t, err, ErrInvalidInstruction.ToCustomError())

			assert.False(t, env.getRecord(t, ex).HasBid())
			assert.EqualValues(t, 1_000, testutil.GetTokenAccount(t, env.store, b1.currencySource).Amount)
			testutil.RequireAccountClosed(t, env.store, pub(custody))
		})
	}

	// Handing the close authority to the custody authority keeps the custody
	// closable, so the bid stands and can be outbid.
	custody := testutil.GenerateSolanaKeypair(t)
	_, err = env.bidWith(t, b1, ex, 150, custody, []solana.Instruction{
		token.SetAuthority(pub(custody), pub(b1.owner), env.authority, token.AuthorityTypeCloseAccount),
	})
	require.NoError(t, err)
	assert.Equal(t, pub(b1.owner), env.getRecord(t, ex).HighestBidder)

	_, err = env.bid(t, b2, ex, 200)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000, testutil.GetTokenAccount(t, env.store, b1.currencySource).Amount)
	testutil.RequireAccountClosed(t, env.store, pub(custody))
}

func TestProgram_BidRefundDestinationGone(t *testing.T) {
	for _, tc := range []struct {
		name  string
		spoil func(t *testing.T, env *testEnv, b *testBidder)
	}{
		{"closed", func(t *testing.T, env *testEnv, b *testBidder) {
			_, err := env.execute(t, []ed25519.PrivateKey{b.owner}, token.CloseAccount(b.currencySource, pub(b.owner), pub(b.owner)))
			require.NoError(t, err)
			testutil.RequireAccountClosed(t, env.store, b.currencySource)
		}},
		{"recreated for another mint", func(t *testing.T, env *testEnv, b *testBidder) {
			testutil.CreateTokenAccount(t, env.store, b.currencySource, env.collectibleMint, pub(b.owner), 0)
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := setup(t)
			ex := env.newExhibitor(t)
			b1 := env.newBidder(t, 150)
			b2 := env.newBidder(t, 1_000)

			_, err := env.open(t, ex, 100, 3600)
			require.NoError(t, err)
			_, err = env.bid(t, b1, ex, 150)
			require.NoError(t, err)
			b1Custody := env.getRecord(t, ex).HighestBidderCurrencyCustody

			tc.spoil(t, env, b1)

			result, err := env.bid(t, b2, ex, 1_000)
			require.NoError(t, err)
			assert.Contains(t, result.Logs, "Program log: Returning the FT temporary account to the previous highest bidder...")

			record := env.getRecord(t, ex)
			assert.Equal(t, pub(b2.owner), record.HighestBidder)
			assert.EqualValues(t, 1_000, record.CurrentPrice)

			// b1's funds stay in the custody account, now held by b1.
			held := testutil.GetTokenAccount(t, env.store, b1Custody)
			assert.Equal(t, pub(b1.owner), held.Owner)
			assert.EqualValues(t, 150, held.Amount)
			assert.Nil(t, held.CloseAuthority)

			recovered := testutil.GenerateSolanaKeys(t, 1)[0]
			testutil.CreateTokenAccount(t, env.store, recovered, env.currencyMint, pub(b1.owner), 0)
			_, err = env.execute(
				t,
				[]ed25519.PrivateKey{b1.owner},
				token.Transfer(b1Custody, recovered, pub(b1.owner), 150),
				token.CloseAccount(b1Custody, pub(b1.owner), pub(b1.owner)),
			)
			require.NoError(t, err)
			assert.EqualValues(t, 150, testutil.GetTokenAccount(t, env.store, recovered).Amount)
			testutil.RequireAccountClosed(t, env.store, b1Custody)
		})
	}
}

func TestProgram_ClosePayoutDestinationGone(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)
	b := env.newBidder(t, 1_000)

	_, err := env.open(t, ex, 100, 3600)
	require.NoError(t, err)
	_, err = env.bid(t, b, ex, 150)
	require.NoError(t, err)
	custody := env.getRecord(t, ex).HighestBidderCurrencyCustody

	_, err = env.execute(t, []ed25519.PrivateKey{ex.owner}, token.CloseAccount(ex.payoutDestination, pub(ex.owner), pub(ex.owner)))
	require.NoError(t, err)

	env.clock.Set(time.Unix(4600, 0))
	result, err := env.close(t, b, ex)
	require.NoError(t, err)
	assert.Contains(t, result.Logs, "Program log: Returning the FT temporary account to the Exhibitor...")

	assert.EqualValues(t, 1, testutil.GetTokenAccount(t, env.store, b.collectibleDestination).Amount)
	held := testutil.GetTokenAccount(t, env.store, custody)
	assert.Equal(t, pub(ex.owner), held.Owner)
	assert.EqualValues(t, 150, held.Amount)
	testutil.RequireAccountClosed(t, env.store, pub(ex.collectibleCustody))
	testutil.RequireAccountClosed(t, env.store, pub(ex.escrow))
}

func TestProgram_CloseSubstitutedAccounts(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)
	other := env.newExhibitor(t)
	b := env.newBidder(t, 1_000)

	_, err := env.open(t, ex, 100, 3600)
	require.NoError(t, err)
	_, err = env.bid(t, b, ex, 150)
	require.NoError(t, err)
	custody := env.getRecord(t, ex).HighestBidderCurrencyCustody

	env.clock.Set(time.Unix(4600, 0))
	for _, tc := range []struct {
		name string
		edit func(*CloseAccounts)
	}{
		{"exhibitor", func(a *CloseAccounts) {
			a.Exhibitor = pub(other.owner)
		}},
		{"payout destination", func(a *CloseAccounts) {
			a.PayoutDestination = b.currencySource
		}},
		{"collectible custody", func(a *CloseAccounts) {
			a.CollectibleCustody = other.collectibleSource
		}},
		{"currency custody", func(a *CloseAccounts) {
			a.CurrencyCustody = b.currencySource
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.close(t, b, ex, tc.edit)
			testutil.AssertInstructionError(t, err, solana.ErrInvalidAccountData)
		})
	}

	_, err = env.close(t, b, ex, func(a *CloseAccounts) {
		a.CustodyAuthority = pub(b.owner)
	})
	testutil.AssertCustomError(t, err, ErrInvalidInstruction.ToCustomError())

	assert.True(t, env.getRecord(t, ex).HasBid())
	assert.EqualValues(t, 850, testutil.GetTokenAccount(t, env.store, b.currencySource).Amount)
	assert.EqualValues(t, 150, testutil.GetTokenAccount(t, env.store, custody).Amount)
	assert.EqualValues(t, 0, testutil.GetTokenAccount(t, env.store, ex.payoutDestination).Amount)
	assert.EqualValues(t, 1, testutil.GetTokenAccount(t, env.store, pub(ex.collectibleCustody)).Amount)
	assert.EqualValues(t, 0, testutil.GetTokenAccount(t, env.store, b.collectibleDestination).Amount)

	_, err = env.close(t, b, ex)
	require.NoError(t, err)
	assert.EqualValues(t, 150, testutil.GetTokenAccount(t, env.store, ex.payoutDestination).Amount)
}

func TestProgram_ExpectedAmountMismatch(t *testing.T) {
	env := setup(t)
	ex := env.newExhibitor(t)
	b1 := env.newBidder(t, 1_000)
	b2 := env.newBidder(t, 1_000)

	_, err := env.open(t, ex, 100, 3600)
	require.NoError(t, err)
	_, err = env.bid(t, b1, ex, 150)
	require.NoError(t, err)

	// Custody balances below the recorded price are rejected on refund.
	b1Custody := env.getRecord(t, ex).HighestBidderCurrencyCustody
	testutil.CreateTokenAccount(t, env.store, b1Custody, env.currencyMint, env.authority, 149)
	_, err = env.bid(t, b2, ex, 200)
	testutil.AssertCustomError(t, err, ErrExpectedAmountMismatch.ToCustomError())

	testutil.CreateTokenAccount(t, env.store, b1Custody, env.currencyMint, env.authority, 150)
	_, err = env.bid(t, b2, ex, 200)
	require.NoError(t, err)

	// And on settlement.
	env.clock.Set(time.Unix(4600, 0))
	b2Custody := env.getRecord(t, ex).HighestBidderCurrencyCustody
	testutil.CreateTokenAccount(t, env.store, b2Custody, env.currencyMint, env.authority, 199)
	_, err = env.close(t, b2, ex)
	testutil.AssertCustomError(t, err, ErrExpectedAmountMismatch.ToCustomError())

	testutil.CreateTokenAccount(t, env.store, b2Custody, env.currencyMint, env.authority, 200)
	testutil.CreateTokenAccount(t, env.store, pub(ex.collectibleCustody), env.collectibleMint, env.authority, 0)
	_, err = env.close(t, b2, ex)
	testutil.AssertCustomError(t, err, ErrExpectedAmountMismatch.ToCustomError())
	assert.Contains(t, err.Error(), "collectible custody is empty")
}
