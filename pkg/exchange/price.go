package exchange

import "math/big"

// CurrentPrice resolves the order's price at Unix time now.
//
// FixedPrice orders always price at BasePrice. Dutch auctions move linearly
// by Extra over [ListingTime, ExpirationTime]: sells decay toward
// BasePrice-Extra, buys rise toward BasePrice+Extra. Elapsed time is clamped
// to the auction window; division truncates toward zero. A sell whose Extra
// exceeds BasePrice bottoms out at zero rather than going negative.
func CurrentPrice(o *Order, now uint64) *big.Int {
	base := new(big.Int).Set(intOrZero(o.BasePrice))
	if o.SaleKind != DutchAuction {
		return base
	}
	if o.ExpirationTime <= o.ListingTime {
		return base
	}

	duration := o.ExpirationTime - o.ListingTime
	var elapsed uint64
	if now > o.ListingTime {
		elapsed = min(now-o.ListingTime, duration)
	}

	diff := new(big.Int).Mul(intOrZero(o.Extra), new(big.Int).SetUint64(elapsed))
	diff.Quo(diff, new(big.Int).SetUint64(duration))

	if o.Side == Sell {
		if base.Sub(base, diff).Sign() < 0 {
			return base.SetUint64(0)
		}
		return base
	}
	return base.Add(base, diff)
}

// MatchPrice is the price a compatible pair settles at: the resting
// order's current price (sell if its fee recipient is set, else buy)
func MatchPrice(buy, sell *Order, now uint64) *big.Int {
	if sell.IsMaker() {
		return CurrentPrice(sell, now)
	}
	return CurrentPrice(buy, now)
}
