package client

import (
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58/base58"

	"github.com/code-payments/code-auction/pkg/metrics"
)

const (
	metricsStructName = "auction.client"

	auctionOpenedEventName    = "AuctionOpened"
	bidPlacedEventName        = "BidPlaced"
	auctionCancelledEventName = "AuctionCancelled"
	auctionSettledEventName   = "AuctionSettled"
)

func recordAuctionEvent(ctx context.Context, eventName string, auction ed25519.PublicKey, price uint64, attempts uint) {
	metrics.RecordEvent(ctx, eventName, map[string]interface{}{
		"auction":  base58.Encode(auction),
		"price":    price,
		"attempts": attempts,
	})
}
