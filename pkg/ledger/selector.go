package ledger

import (
	"errors"
	"sort"
)

// ErrNoEligibleInstrument is returned when an account holds no active
// instrument carrying the requested right.
var ErrNoEligibleInstrument = errors.New("no eligible instrument for right")

// SelectInstrument picks the instrument to charge for a call on the named
// right. The choice is a cost policy and must be deterministic:
//
//   - cheapest right price first, so the caller is never overcharged;
//   - on a price tie, earliest validity end time first, so entitlements
//     about to expire are consumed before longer-lived ones.
//
// Instruments that do not carry the right are skipped. Returns
// ErrNoEligibleInstrument when nothing qualifies.
func SelectInstrument(instruments []Instrument, rightName string) (Instrument, Right, error) {
	type candidate struct {
		instrument Instrument
		right      Right
	}

	var candidates []candidate
	for _, ins := range instruments {
		if r, ok := ins.Right(rightName); ok {
			candidates = append(candidates, candidate{instrument: ins, right: r})
		}
	}
	if len(candidates) == 0 {
		return Instrument{}, Right{}, ErrNoEligibleInstrument
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		switch candidates[i].right.Price.Cmp(candidates[j].right.Price) {
		case -1:
			return true
		case 1:
			return false
		}
		return candidates[i].instrument.EndTime.Before(candidates[j].instrument.EndTime)
	})

	best := candidates[0]
	return best.instrument, best.right, nil
}
