package service

const (
	gib = int64(1) << 30
	// Basis point denominator: 10000 bp = 100%.
	bpDenom = int64(10000)
)

// Quote is a priced storage purchase, all amounts in paise.
type Quote struct {
	Units         int64
	SubtotalPaise int64
	TaxPaise      int64
	TotalPaise    int64
}

// PriceStorage prices a purchase of storageBytes at pricePaisePerGB with a
// tier discount and flat tax, both in basis points. Partial gigabytes are
// billed as whole units; discount and tax round half up.
func PriceStorage(storageBytes, pricePaisePerGB, discountBP, taxBP int64) Quote {
	units := (storageBytes + gib - 1) / gib
	base := units * pricePaisePerGB

	subtotal := roundHalfUpBP(base, bpDenom-discountBP)
	tax := roundHalfUpBP(subtotal, taxBP)

	return Quote{
		Units:         units,
		SubtotalPaise: subtotal,
		TaxPaise:      tax,
		TotalPaise:    subtotal + tax,
	}
}

// roundHalfUpBP computes amount × bp / 10000 rounded half up.
func roundHalfUpBP(amount, bp int64) int64 {
	if amount <= 0 || bp <= 0 {
		return 0
	}
	return (amount*bp + bpDenom/2) / bpDenom
}
