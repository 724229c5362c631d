// Package ledger provides per-run token and cost accounting across
// model providers and call purposes.
package ledger

import (
	"fmt"
	"sync"
	"time"
)

// CharsPerToken is the fixed ratio used to estimate tokens saved by
// summarisation when only byte counts are available.
const CharsPerToken = 4

// Purpose identifies why a model was called within a run.
type Purpose string

const (
	PurposeAgentLoop      Purpose = "agent_loop"
	PurposeAnalysis       Purpose = "analysis"
	PurposeCompaction     Purpose = "compaction"
	PurposeToolSummary    Purpose = "tool_summary"
	PurposeSkillFilter    Purpose = "skill_filter"
	PurposeSkillOptimiser Purpose = "skill_optimiser"
	PurposeIterationNote  Purpose = "iteration_summary"
)

// Entry is one ledger record: a single model call and its accounting.
type Entry struct {
	Provider     string    `json:"provider"`
	Purpose      Purpose   `json:"purpose"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	BytesSaved   int64     `json:"bytes_saved,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Total returns input+output tokens for this entry.
func (e Entry) Total() int64 {
	return e.InputTokens + e.OutputTokens
}

// TokensSaved estimates tokens saved from BytesSaved using the fixed
// chars-per-token ratio.
func (e Entry) TokensSaved() int64 {
	return e.BytesSaved / CharsPerToken
}

// Rate holds per-million-token pricing for one direction.
type Rate struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// Estimate computes the USD cost for the given token counts.
func (r Rate) Estimate(inputTokens, outputTokens int64) float64 {
	return (float64(inputTokens)*r.Input + float64(outputTokens)*r.Output) / 1_000_000
}

// PriceTable maps "provider" or "provider/model" to a Rate. A lookup
// first tries the exact provider/model key, falling back to the bare
// provider key. Providers absent from the table, or explicitly listed
// in FreeProviders, cost zero regardless of token counts.
type PriceTable struct {
	Rates         map[string]Rate
	FreeProviders map[string]bool
}

// DefaultPriceTable returns the built-in price table, matching the
// cloud strong-model sub-tiers (haiku/sonnet/opus class) and marking
// on-device/local/native providers free.
func DefaultPriceTable() *PriceTable {
	return &PriceTable{
		Rates: map[string]Rate{
			"anthropic/claude-opus-4":           {Input: 15.0, Output: 75.0},
			"anthropic/claude-3-5-sonnet-latest": {Input: 3.0, Output: 15.0},
			"anthropic/claude-3-5-haiku-latest":  {Input: 0.8, Output: 4.0},
			"openai/gpt-4o":                      {Input: 2.5, Output: 10.0},
			"openai/gpt-4o-mini":                 {Input: 0.15, Output: 0.6},
		},
		FreeProviders: map[string]bool{
			"on_device":  true,
			"local":      true,
			"classifier": true,
		},
	}
}

// Override merges an overlay of rates onto the table (e.g. from
// environment-provided price overrides), replacing any key present in
// both.
func (p *PriceTable) Override(overrides map[string]Rate) {
	if p.Rates == nil {
		p.Rates = make(map[string]Rate)
	}
	for k, v := range overrides {
		p.Rates[k] = v
	}
}

// Estimate computes the cost of a call, given a provider label and an
// optional model sub-tier (used as "provider/model" for lookup).
func (p *PriceTable) Estimate(provider, model string, inputTokens, outputTokens int64) float64 {
	if p.FreeProviders[provider] {
		return 0
	}
	if model != "" {
		if rate, ok := p.Rates[provider+"/"+model]; ok {
			return rate.Estimate(inputTokens, outputTokens)
		}
	}
	if rate, ok := p.Rates[provider]; ok {
		return rate.Estimate(inputTokens, outputTokens)
	}
	return 0
}

// Totals aggregates token and cost counts.
type Totals struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Total returns input+output tokens.
func (t Totals) Total() int64 {
	return t.InputTokens + t.OutputTokens
}

func (t *Totals) add(e Entry) {
	t.InputTokens += e.InputTokens
	t.OutputTokens += e.OutputTokens
	t.Cost += e.Cost
}

// Ledger is an append-only sequence of Entry records for a single
// orchestrator run. It is not safe for concurrent use across
// goroutines — the spec mandates single-threaded-within-a-run access,
// matching the strictly sequential Agent Driver loop.
type Ledger struct {
	mu          sync.Mutex
	entries     []Entry
	byProvider  map[string]*Totals
	byPurpose   map[Purpose]*Totals
	bytesSaved  int64
	tokensSaved int64
	prices      *PriceTable
}

// New creates an empty Ledger using the given price table. A nil
// table falls back to DefaultPriceTable.
func New(prices *PriceTable) *Ledger {
	if prices == nil {
		prices = DefaultPriceTable()
	}
	return &Ledger{
		byProvider: make(map[string]*Totals),
		byPurpose:  make(map[Purpose]*Totals),
		prices:     prices,
	}
}

// Record appends a new entry. Cost is computed from the price table
// unless the caller already supplied a non-zero cost.
func (l *Ledger) Record(provider, model string, purpose Purpose, inputTokens, outputTokens int64, bytesSaved int64) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	cost := l.prices.Estimate(provider, model, inputTokens, outputTokens)
	e := Entry{
		Provider:     provider,
		Purpose:      purpose,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
		BytesSaved:   bytesSaved,
		Timestamp:    time.Now(),
	}
	l.entries = append(l.entries, e)

	if l.byProvider[provider] == nil {
		l.byProvider[provider] = &Totals{}
	}
	l.byProvider[provider].add(e)

	if l.byPurpose[purpose] == nil {
		l.byPurpose[purpose] = &Totals{}
	}
	l.byPurpose[purpose].add(e)

	if bytesSaved > 0 {
		l.bytesSaved += bytesSaved
		l.tokensSaved += e.TokensSaved()
	}

	return e
}

// Entries returns a copy of all recorded entries, in record order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// TotalsByProvider returns a snapshot of totals keyed by provider.
func (l *Ledger) TotalsByProvider() map[string]Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Totals, len(l.byProvider))
	for k, v := range l.byProvider {
		out[k] = *v
	}
	return out
}

// TotalsByPurpose returns a snapshot of totals keyed by purpose.
func (l *Ledger) TotalsByPurpose() map[Purpose]Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Purpose]Totals, len(l.byPurpose))
	for k, v := range l.byPurpose {
		out[k] = *v
	}
	return out
}

// Savings reports cumulative bytes and estimated tokens saved by
// summarisation across this ledger's lifetime.
func (l *Ledger) Savings() (bytesSaved, tokensSaved int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytesSaved, l.tokensSaved
}

// OverallTotals returns the grand total across all entries. By
// construction sum(byProvider) == sum(byPurpose) == OverallTotals,
// since every entry is recorded into exactly one provider bucket and
// exactly one purpose bucket.
func (l *Ledger) OverallTotals() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()
	var t Totals
	for _, e := range l.entries {
		t.add(e)
	}
	return t
}

// FormatReport renders a human-readable summary of the ledger.
func (l *Ledger) FormatReport() string {
	overall := l.OverallTotals()
	bytesSaved, tokensSaved := l.Savings()
	report := fmt.Sprintf("tokens: %s (cost %s)", FormatTokenCount(overall.Total()), FormatUSD(overall.Cost))
	if bytesSaved > 0 {
		report += fmt.Sprintf(", saved ~%s tokens via summarisation", FormatTokenCount(tokensSaved))
	}
	for provider, totals := range l.TotalsByProvider() {
		report += fmt.Sprintf("\n  %s: %s tokens, %s", provider, FormatTokenCount(totals.Total()), FormatUSD(totals.Cost))
	}
	return report
}
