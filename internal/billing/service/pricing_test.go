package service

import "testing"

func TestPriceStorage(t *testing.T) {
	const gb = int64(1) << 30

	tests := []struct {
		name       string
		bytes      int64
		pricePerGB int64
		discountBP int64
		taxBP      int64
		want       Quote
	}{
		{
			name:       "no discount no tax",
			bytes:      10 * gb,
			pricePerGB: 500,
			want:       Quote{Units: 10, SubtotalPaise: 5000, TaxPaise: 0, TotalPaise: 5000},
		},
		{
			name:       "tier discount and tax",
			bytes:      10 * gb,
			pricePerGB: 100,
			discountBP: 1000,
			taxBP:      1800,
			want:       Quote{Units: 10, SubtotalPaise: 900, TaxPaise: 162, TotalPaise: 1062},
		},
		{
			name:       "partial gigabyte rounds up to a unit",
			bytes:      gb + 1,
			pricePerGB: 100,
			want:       Quote{Units: 2, SubtotalPaise: 200, TaxPaise: 0, TotalPaise: 200},
		},
		{
			name:       "half paise rounds up",
			bytes:      gb,
			pricePerGB: 25,
			discountBP: 1000,
			want:       Quote{Units: 1, SubtotalPaise: 23, TaxPaise: 0, TotalPaise: 23},
		},
		{
			name:       "full discount",
			bytes:      5 * gb,
			pricePerGB: 100,
			discountBP: 10000,
			taxBP:      1800,
			want:       Quote{Units: 5, SubtotalPaise: 0, TaxPaise: 0, TotalPaise: 0},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := PriceStorage(tc.bytes, tc.pricePerGB, tc.discountBP, tc.taxBP)
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}
