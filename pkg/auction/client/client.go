package client

import (
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/code-auction/pkg/auction"
	"github.com/code-payments/code-auction/pkg/ledger"
	"github.com/code-payments/code-auction/pkg/ledger/account"
	"github.com/code-payments/code-auction/pkg/metrics"
	"github.com/code-payments/code-auction/pkg/rate"
	"github.com/code-payments/code-auction/pkg/retry"
	"github.com/code-payments/code-auction/pkg/retry/backoff"
	"github.com/code-payments/code-auction/pkg/solana"
	"github.com/code-payments/code-auction/pkg/solana/system"
	"github.com/code-payments/code-auction/pkg/solana/token"
)

var ErrAuctionNotFound = errors.New("auction not found")

// Submitter is the ledger surface the client needs. *ledger.Bank implements
// it.
type Submitter interface {
	ExecuteTransaction(ctx context.Context, txn solana.Transaction) (*ledger.ExecutionResult, error)
	GetAccount(ctx context.Context, address ed25519.PublicKey) (*account.Record, error)
	Rent(ctx context.Context) system.Rent
}

// Auction identifies a live auction by its escrow account and the custody
// account holding the exhibited collectible.
type Auction struct {
	Address            ed25519.PublicKey
	CollectibleCustody ed25519.PublicKey
}

// Client assembles and submits auction transactions. Every temporary custody
// account it uses is created fresh inside the transaction that hands it to
// the custody authority.
type Client struct {
	log       *logrus.Entry
	conf      *conf
	ledger    Submitter
	programID ed25519.PublicKey
	authority ed25519.PublicKey
	limiter   rate.Limiter
}

func New(ledger Submitter, programID ed25519.PublicKey, configProvider ConfigProvider) (*Client, error) {
	authority, _, err := auction.GetCustodyAuthority(programID)
	if err != nil {
		return nil, errors.Wrap(err, "error deriving custody authority")
	}

	conf := configProvider()

	var limiter rate.Limiter = rate.NoLimiter{}
	if perSecond := conf.submitRate.Get(context.Background()); perSecond > 0 {
		limiter = rate.NewLocalLimiter(perSecond, int(perSecond))
	}

	return &Client{
		log:       logrus.StandardLogger().WithField("type", "auction/client"),
		conf:      conf,
		ledger:    ledger,
		programID: programID,
		authority: authority,
		limiter:   limiter,
	}, nil
}

// CustodyAuthority returns the address holding every escrowed asset.
func (c *Client) CustodyAuthority() ed25519.PublicKey {
	return c.authority
}

// Open exhibits one unit of the collectible held in collectibleSource. Bids
// must exceed initialPrice, and are accepted for duration seconds.
func (c *Client) Open(
	ctx context.Context,
	exhibitor ed25519.PrivateKey,
	collectibleSource, collectibleMint, payoutDestination ed25519.PublicKey,
	initialPrice, duration uint64,
) (*Auction, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Open")
	defer tracer.End()

	exhibitorKey := exhibitor.Public().(ed25519.PublicKey)
	log := c.log.WithFields(logrus.Fields{
		"method":    "Open",
		"exhibitor": base58.Encode(exhibitorKey),
	})

	var result *Auction
	attempts, err := c.submit(ctx, func() error {
		escrow, err := newKeypair()
		if err != nil {
			return err
		}
		custody, err := newKeypair()
		if err != nil {
			return err
		}

		rent := c.ledger.Rent(ctx)
		txn := solana.NewTransaction(
			exhibitorKey,
			system.CreateAccount(exhibitorKey, public(escrow), c.programID, rent.MinimumBalance(auction.RecordSize), auction.RecordSize),
			system.CreateAccount(exhibitorKey, public(custody), token.ProgramKey, rent.MinimumBalance(token.AccountSize), token.AccountSize),
			token.InitializeAccount(public(custody), collectibleMint, exhibitorKey),
			auction.NewOpenInstruction(c.programID, &auction.OpenAccounts{
				Exhibitor:          exhibitorKey,
				CollectibleSource:  collectibleSource,
				CollectibleCustody: public(custody),
				PayoutDestination:  payoutDestination,
				Escrow:             public(escrow),
			}, initialPrice, duration),
		)
		if err := c.execute(ctx, txn, exhibitor, escrow, custody); err != nil {
			return err
		}

		result = &Auction{
			Address:            public(escrow),
			CollectibleCustody: public(custody),
		}
		return nil
	})
	if err != nil {
		tracer.OnError(err)
		log.WithError(err).Debug("failure opening auction")
		return nil, err
	}

	log.WithField("auction", base58.Encode(result.Address)).Debug("auction opened")
	recordAuctionEvent(ctx, auctionOpenedEventName, result.Address, initialPrice, attempts)
	return result, nil
}

// Bid places a bid of price currency units from currencySource, returning the
// custody account now holding them. A bid built against a record that changed
// before it landed is rebuilt against the new record.
func (c *Client) Bid(
	ctx context.Context,
	address ed25519.PublicKey,
	bidder ed25519.PrivateKey,
	currencySource, currencyMint ed25519.PublicKey,
	price uint64,
) (ed25519.PublicKey, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Bid")
	defer tracer.End()

	bidderKey := bidder.Public().(ed25519.PublicKey)
	log := c.log.WithFields(logrus.Fields{
		"method":  "Bid",
		"auction": base58.Encode(address),
		"bidder":  base58.Encode(bidderKey),
		"price":   price,
	})

	var custodyKey ed25519.PublicKey
	attempts, err := c.submit(ctx, func() error {
		record, err := c.getActiveRecord(ctx, address)
		if err != nil {
			return err
		}

		custody, err := newKeypair()
		if err != nil {
			return err
		}

		rent := c.ledger.Rent(ctx)
		txn := solana.NewTransaction(
			bidderKey,
			system.CreateAccount(bidderKey, public(custody), token.ProgramKey, rent.MinimumBalance(token.AccountSize), token.AccountSize),
			token.InitializeAccount(public(custody), currencyMint, bidderKey),
			auction.NewBidInstruction(c.programID, &auction.BidAccounts{
				Bidder:                          bidderKey,
				PreviousBidder:                  record.HighestBidder,
				PreviousBidderCurrencyCustody:   record.HighestBidderCurrencyCustody,
				PreviousBidderRefundDestination: record.HighestBidderRefundDestination,
				CurrencyCustody:                 public(custody),
				CurrencySource:                  currencySource,
				Escrow:                          address,
				CustodyAuthority:                c.authority,
			}, price),
		)
		if err := c.execute(ctx, txn, bidder, custody); err != nil {
			return err
		}

		custodyKey = public(custody)
		return nil
	})
	if err != nil {
		tracer.OnError(err)
		log.WithError(err).Debug("failure placing bid")
		return nil, err
	}

	log.WithField("attempts", attempts).Debug("bid placed")
	recordAuctionEvent(ctx, bidPlacedEventName, address, price, attempts)
	return custodyKey, nil
}

// Cancel ends an auction that has not received a bid, returning the
// collectible to returnDestination.
func (c *Client) Cancel(ctx context.Context, address ed25519.PublicKey, exhibitor ed25519.PrivateKey, returnDestination ed25519.PublicKey) error {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Cancel")
	defer tracer.End()

	exhibitorKey := exhibitor.Public().(ed25519.PublicKey)
	log := c.log.WithFields(logrus.Fields{
		"method":  "Cancel",
		"auction": base58.Encode(address),
	})

	var price uint64
	attempts, err := c.submit(ctx, func() error {
		record, err := c.getActiveRecord(ctx, address)
		if err != nil {
			return err
		}
		price = record.CurrentPrice

		txn := solana.NewTransaction(
			exhibitorKey,
			auction.NewCancelInstruction(c.programID, &auction.CancelAccounts{
				Exhibitor:          exhibitorKey,
				CollectibleCustody: record.ExhibitedItemCustody,
				ReturnDestination:  returnDestination,
				Escrow:             address,
				CustodyAuthority:   c.authority,
			}),
		)
		return c.execute(ctx, txn, exhibitor)
	})
	if err != nil {
		tracer.OnError(err)
		log.WithError(err).Debug("failure cancelling auction")
		return err
	}

	log.Debug("auction cancelled")
	recordAuctionEvent(ctx, auctionCancelledEventName, address, price, attempts)
	return nil
}

// Settle closes an ended auction on behalf of its highest bidder, delivering
// the collectible to collectibleDestination and the winning bid to the
// exhibitor.
func (c *Client) Settle(ctx context.Context, address ed25519.PublicKey, bidder ed25519.PrivateKey, collectibleDestination ed25519.PublicKey) error {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Settle")
	defer tracer.End()

	bidderKey := bidder.Public().(ed25519.PublicKey)
	log := c.log.WithFields(logrus.Fields{
		"method":  "Settle",
		"auction": base58.Encode(address),
		"bidder":  base58.Encode(bidderKey),
	})

	var price uint64
	attempts, err := c.submit(ctx, func() error {
		record, err := c.getActiveRecord(ctx, address)
		if err != nil {
			return err
		}
		price = record.CurrentPrice

		txn := solana.NewTransaction(
			bidderKey,
			auction.NewCloseInstruction(c.programID, &auction.CloseAccounts{
				Bidder:                 bidderKey,
				Exhibitor:              record.Exhibitor,
				CollectibleCustody:     record.ExhibitedItemCustody,
				PayoutDestination:      record.PayoutDestination,
				CurrencyCustody:        record.HighestBidderCurrencyCustody,
				CollectibleDestination: collectibleDestination,
				Escrow:                 address,
				CustodyAuthority:       c.authority,
			}),
		)
		return c.execute(ctx, txn, bidder)
	})
	if err != nil {
		tracer.OnError(err)
		log.WithError(err).Debug("failure settling auction")
		return err
	}

	log.WithField("price", price).Debug("auction settled")
	recordAuctionEvent(ctx, auctionSettledEventName, address, price, attempts)
	return nil
}

// GetAuction returns the state of the escrow account at address.
// ErrAuctionNotFound is returned if no auction was ever opened there, or if
// it has since been cancelled or settled.
func (c *Client) GetAuction(ctx context.Context, address ed25519.PublicKey) (*auction.State, error) {
	record, err := c.ledger.GetAccount(ctx, address)
	if err == account.ErrAccountNotFound {
		return nil, ErrAuctionNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "error getting escrow account")
	}

	if !record.Owner.Equal(c.programID) {
		return nil, ErrAuctionNotFound
	}

	state, err := auction.ParseState(record.Data)
	if err != nil {
		return nil, errors.Wrap(err, "error parsing escrow account")
	}
	return state, nil
}

func (c *Client) getActiveRecord(ctx context.Context, address ed25519.PublicKey) (*auction.Record, error) {
	state, err := c.GetAuction(ctx, address)
	if err != nil {
		return nil, err
	}
	if !state.IsActive() {
		return nil, ErrAuctionNotFound
	}
	return state.Record, nil
}

func (c *Client) execute(ctx context.Context, txn solana.Transaction, signers ...ed25519.PrivateKey) error {
	if err := txn.Sign(signers...); err != nil {
		return errors.Wrap(err, "error signing transaction")
	}

	if err := c.limiter.Wait(ctx, base58.Encode(txn.Message.Accounts[0])); err != nil {
		return err
	}

	result, err := c.ledger.ExecuteTransaction(ctx, txn)
	if err != nil {
		log := c.log.WithError(err)
		if result != nil {
			log = log.WithFields(logrus.Fields{
				"execution": result.ID.String(),
				"logs":      result.Logs,
			})
		}
		log.Trace("transaction failed")
		return err
	}
	return nil
}

// submit runs action until it succeeds, fails permanently, or runs out of
// attempts.
func (c *Client) submit(ctx context.Context, action retry.Action) (uint, error) {
	return retry.Retry(
		action,
		retry.Context(ctx),
		retry.Limit(uint(c.conf.maxSubmitAttempts.Get(ctx))),
		retry.RetriableIf(isTransient),
		retry.Backoff(backoff.BinaryExponential(c.conf.submitBackoff.Get(ctx)), c.conf.maxSubmitBackoff.Get(ctx)),
	)
}

// isTransient reports whether resubmitting could succeed: the accounts were
// busy, or the bid was built against a record a concurrent bid replaced.
func isTransient(err error) bool {
	var txnErr *solana.TransactionError
	if !errors.As(err, &txnErr) {
		return false
	}

	if txnErr.ErrorKey() == solana.TransactionErrorAccountInUse {
		return true
	}

	code, ok := auction.ErrorFromTransaction(err)
	return ok && code == auction.ErrInvalidInstruction
}

func newKeypair() (ed25519.PrivateKey, error) {
	_, key, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, errors.Wrap(err, "error generating keypair")
	}
	return key, nil
}

func public(key ed25519.PrivateKey) ed25519.PublicKey {
	return key.Public().(ed25519.PublicKey)
}
