/*
scenarios.go - Demo scenario loader

PURPOSE:
  Populates an empty store with two accounts for client 1 and replays the
  reference scenarios through the engine, so a fresh instance has data and
  the expected rejections show up in the logs.

SCENARIOS:
  A  Deposit 500.00 into #1                    -> ok, #1 = 500.00
  B  Withdraw 700.00 from #1                   -> insufficient_funds
  C  Transfer 200.00 from #1 to #2             -> ok, #1 = 300.00, #2 = 200.00
  D  Transfer 10.00 from #1 to #1              -> invalid_transfer

USAGE:
  server -seed

NOTE:
  Runs as Admin. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/banking-ledger/ledger"
)

// ScenarioResult is the outcome of one demo step.
type ScenarioResult struct {
	Name string
	Kind ledger.Kind // "" on success
	Err  error
}

// LoadDemo opens the demo accounts and runs scenarios A to D. It fails only
// when the accounts cannot be opened or a scenario ends with an outcome other
// than the expected one.
func LoadDemo(ctx context.Context, engine *ledger.Engine, books *ledger.Books, log *zap.Logger) ([]ScenarioResult, error) {
	if log == nil {
		log = zap.NewNop()
	}

	first, err := books.OpenAccount(ctx, ledger.ProfileAdmin, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to open demo account: %w", err)
	}
	second, err := books.OpenAccount(ctx, ledger.ProfileAdmin, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to open demo account: %w", err)
	}

	steps := []struct {
		name string
		req  ledger.Request
		want ledger.Kind
	}{
		{"A: deposit 500.00", demoRequest(ledger.TypeDeposit, "500.00", first.ID, 0), ""},
		{"B: withdraw 700.00", demoRequest(ledger.TypeWithdrawal, "700.00", first.ID, 0), ledger.KindInsufficientFunds},
		{"C: transfer 200.00", demoRequest(ledger.TypeTransfer, "200.00", first.ID, second.ID), ""},
		{"D: transfer to self", demoRequest(ledger.TypeTransfer, "10.00", first.ID, first.ID), ledger.KindInvalidTransfer},
	}

	results := make([]ScenarioResult, 0, len(steps))
	for _, s := range steps {
		_, err := engine.Apply(ctx, s.req)
		kind := ledger.KindOf(err)
		results = append(results, ScenarioResult{Name: s.name, Kind: kind, Err: err})

		if kind != s.want {
			return results, fmt.Errorf("scenario %s: expected %q, got %q: %w", s.name, s.want, kind, err)
		}
		log.Info("demo scenario", zap.String("scenario", s.name), zap.String("outcome", outcome(kind)))
	}
	return results, nil
}

func demoRequest(code ledger.TypeCode, amount string, from, to ledger.AccountID) ledger.Request {
	return ledger.Request{
		Profile:              ledger.ProfileAdmin,
		TypeCode:             code,
		Amount:               decimal.RequireFromString(amount),
		AccountID:            from,
		DestinationAccountID: to,
	}
}

func outcome(kind ledger.Kind) string {
	if kind == "" {
		return "ok"
	}
	return string(kind)
}
