// internal/agent/ledger.go
package agent

import "sync"

// Ledger is the append-only history of one task execution. Records go in
// and come out as deep copies, so nothing a caller holds aliases them.
type Ledger struct {
	mu      sync.RWMutex
	records []StepRecord
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append adds a record after every existing one.
func (l *Ledger) Append(rec StepRecord) {
	rec = cloneRecord(rec)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

// Snapshot returns a copy of the records in step order.
func (l *Ledger) Snapshot() []StepRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]StepRecord, len(l.records))
	for i, rec := range l.records {
		out[i] = cloneRecord(rec)
	}
	return out
}

func cloneRecord(rec StepRecord) StepRecord {
	rec.Action.Input = cloneInput(rec.Action.Input)
	rec.Usage.CachedTokens = cloneCount(rec.Usage.CachedTokens)
	rec.Usage.ReasoningTokens = cloneCount(rec.Usage.ReasoningTokens)
	return rec
}

func cloneCount(n *int) *int {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func cloneInput(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the JSON container types; scalars are immutable.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneInput(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
