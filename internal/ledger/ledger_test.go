package ledger

import "testing"

func TestRecordComputesCostFromPriceTable(t *testing.T) {
	l := New(DefaultPriceTable())
	e := l.Record("anthropic", "claude-3-5-sonnet-latest", PurposeAgentLoop, 1000, 500, 0)
	want := (1000.0*3.0 + 500.0*15.0) / 1_000_000
	if e.Cost != want {
		t.Fatalf("cost = %v, want %v", e.Cost, want)
	}
}

func TestFreeProviderAlwaysZeroCost(t *testing.T) {
	l := New(DefaultPriceTable())
	e := l.Record("on_device", "", PurposeAgentLoop, 100000, 100000, 0)
	if e.Cost != 0 {
		t.Fatalf("free provider cost = %v, want 0", e.Cost)
	}
}

func TestUnknownProviderZeroCost(t *testing.T) {
	l := New(DefaultPriceTable())
	e := l.Record("unknown-provider", "mystery-model", PurposeAgentLoop, 1000, 1000, 0)
	if e.Cost != 0 {
		t.Fatalf("unknown provider cost = %v, want 0", e.Cost)
	}
}

// TestLedgerAdditivity verifies property P7: sum(by-provider.total) ==
// sum(by-purpose.total) == overall.total, and overall.cost >= 0.
func TestLedgerAdditivity(t *testing.T) {
	l := New(DefaultPriceTable())
	l.Record("anthropic", "claude-3-5-sonnet-latest", PurposeAgentLoop, 1000, 200, 0)
	l.Record("anthropic", "claude-3-5-haiku-latest", PurposeCompaction, 500, 100, 400)
	l.Record("on_device", "", PurposeAnalysis, 2000, 2000, 0)

	overall := l.OverallTotals()

	var byProviderTotal int64
	var byProviderCost float64
	for _, totals := range l.TotalsByProvider() {
		byProviderTotal += totals.Total()
		byProviderCost += totals.Cost
	}
	if byProviderTotal != overall.Total() {
		t.Fatalf("sum(by-provider).total = %d, overall.total = %d", byProviderTotal, overall.Total())
	}
	if byProviderCost != overall.Cost {
		t.Fatalf("sum(by-provider).cost = %v, overall.cost = %v", byProviderCost, overall.Cost)
	}

	var byPurposeTotal int64
	for _, totals := range l.TotalsByPurpose() {
		byPurposeTotal += totals.Total()
	}
	if byPurposeTotal != overall.Total() {
		t.Fatalf("sum(by-purpose).total = %d, overall.total = %d", byPurposeTotal, overall.Total())
	}
	if overall.Cost < 0 {
		t.Fatalf("overall.cost = %v, want >= 0", overall.Cost)
	}
}

func TestSavingsUsesCharsPerTokenRatio(t *testing.T) {
	l := New(DefaultPriceTable())
	l.Record("anthropic", "claude-3-5-haiku-latest", PurposeCompaction, 100, 50, 400)
	bytesSaved, tokensSaved := l.Savings()
	if bytesSaved != 400 {
		t.Fatalf("bytesSaved = %d, want 400", bytesSaved)
	}
	if tokensSaved != 400/CharsPerToken {
		t.Fatalf("tokensSaved = %d, want %d", tokensSaved, 400/CharsPerToken)
	}
}

func TestEarlyExitZeroCostLedger(t *testing.T) {
	// Property P3: a direct_answer early-exit run never touches the
	// ledger, so overall totals are zero.
	l := New(DefaultPriceTable())
	if total := l.OverallTotals().Total(); total != 0 {
		t.Fatalf("untouched ledger total = %d, want 0", total)
	}
}

func TestPriceTableOverride(t *testing.T) {
	p := DefaultPriceTable()
	p.Override(map[string]Rate{
		"anthropic/claude-3-5-sonnet-latest": {Input: 1, Output: 1},
	})
	cost := p.Estimate("anthropic", "claude-3-5-sonnet-latest", 1_000_000, 0)
	if cost != 1 {
		t.Fatalf("overridden cost = %v, want 1", cost)
	}
}
