package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// PendingDemand is one blocked withdrawal.
type PendingDemand struct {
	Seq       uint64
	Amount    decimal.Decimal
	Requester string
	Since     time.Time
}

// PendingSet keeps blocked withdrawals in arrival order. It is not safe for
// concurrent use; the owning ledger guards it with its monitor.
type PendingSet struct {
	next    uint64
	demands []PendingDemand
}

// Add registers a demand and assigns it the next sequence number.
func (p *PendingSet) Add(amount decimal.Decimal, requester string, since time.Time) PendingDemand {
	p.next++
	d := PendingDemand{
		Seq:       p.next,
		Amount:    amount,
		Requester: requester,
		Since:     since,
	}
	p.demands = append(p.demands, d)
	return d
}

// Remove drops the demand with seq and reports whether it was present.
func (p *PendingSet) Remove(seq uint64) bool {
	for i, d := range p.demands {
		if d.Seq != seq {
			continue
		}
		copy(p.demands[i:], p.demands[i+1:])
		p.demands[len(p.demands)-1] = PendingDemand{}
		p.demands = p.demands[:len(p.demands)-1]
		return true
	}
	return false
}

// Head returns the earliest pending demand.
func (p *PendingSet) Head() (PendingDemand, bool) {
	if len(p.demands) == 0 {
		return PendingDemand{}, false
	}
	return p.demands[0], true
}

// Len returns the number of pending demands.
func (p *PendingSet) Len() int {
	return len(p.demands)
}

// Total sums the outstanding amounts.
func (p *PendingSet) Total() decimal.Decimal {
	total := decimal.Zero
	for _, d := range p.demands {
		total = total.Add(d.Amount)
	}
	return total
}

// Snapshot copies the demands in arrival order.
func (p *PendingSet) Snapshot() []PendingDemand {
	out := make([]PendingDemand, len(p.demands))
	copy(out, p.demands)
	return out
}
