package ledger

import (
	"context"

	"github.com/code-payments/code-auction/pkg/metrics"
	"github.com/code-payments/code-auction/pkg/solana"
)

const (
	metricsStructName = "ledger.bank"

	committedMetricName = "Ledger/transactions_committed"
	failedEventName     = "LedgerTransactionFailed"
)

func recordCommitted(ctx context.Context) {
	metrics.RecordCount(ctx, committedMetricName, 1)
}

func recordFailed(ctx context.Context, txnErr *solana.TransactionError) {
	kvPairs := map[string]interface{}{
		"error_key": string(txnErr.ErrorKey()),
		"count":     1,
	}
	if ixErr := txnErr.InstructionError(); ixErr != nil {
		kvPairs["instruction"] = ixErr.Index
		kvPairs["instruction_error_key"] = string(ixErr.ErrorKey())
	}
	metrics.RecordEvent(ctx, failedEventName, kvPairs)
}
