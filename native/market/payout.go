package market

import "math/bits"

// Payout is the settlement owed to one winning bettor.
type Payout struct {
	Principal uint64
	Share     uint64
	Total     uint64
}

// ComputePayout returns the principal plus the bettor's pro-rata share of the
// losing pool:
//
//	share = floor(amount * losingTotal / winningTotal)   (0 when winningTotal == 0)
//	total = amount + share
//
// The product must fit in 64 bits and so must the total; either overflow is an
// error. Truncation remainders are not redistributed.
func ComputePayout(amount, winningTotal, losingTotal uint64) (Payout, error) {
	var share uint64
	if winningTotal > 0 {
		hi, lo := bits.Mul64(amount, losingTotal)
		if hi != 0 {
			return Payout{}, ErrOverflow
		}
		share = lo / winningTotal
	}
	total, carry := bits.Add64(amount, share, 0)
	if carry != 0 {
		return Payout{}, ErrOverflow
	}
	return Payout{Principal: amount, Share: share, Total: total}, nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}
