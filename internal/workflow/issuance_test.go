package workflow

import "testing"

func TestPriceBoundsBracketTheRatio(t *testing.T) {
	minPrice, maxPrice, err := priceBounds("1000", "500000", 50)
	if err != nil {
		t.Fatalf("priceBounds returned error: %v", err)
	}
	ratio := 1000.0 / 500000.0
	lower := float64(minPrice.N) / float64(minPrice.D)
	upper := float64(maxPrice.N) / float64(maxPrice.D)
	if lower >= ratio {
		t.Fatalf("lower bound %f should be below the ratio %f", lower, ratio)
	}
	if upper <= ratio {
		t.Fatalf("upper bound %f should be above the ratio %f", upper, ratio)
	}
}

func TestPriceBoundsRejectsBadInput(t *testing.T) {
	if _, _, err := priceBounds("0", "500000", 50); err == nil {
		t.Fatal("zero amount should be rejected")
	}
	if _, _, err := priceBounds("1000", "500000", 10000); err == nil {
		t.Fatal("slippage of 100% should be rejected")
	}
	if _, _, err := priceBounds("abc", "500000", 50); err == nil {
		t.Fatal("unparsable amount should be rejected")
	}
}
