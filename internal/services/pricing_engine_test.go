package services

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	domain "github.com/mediashop/api/internal/domain"
)

func newTestPricingEngine(t *testing.T) *PricingEngine {
	t.Helper()
	engine, err := NewPricingEngine(domain.DefaultPricingSchedule())
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}
	return engine
}

func TestComputeTotalsScenarioA(t *testing.T) {
	engine := newTestPricingEngine(t)

	breakdown, err := engine.ComputeTotals([]domain.OrderItem{
		{ProductID: "book-1", Quantity: 2, UnitPrice: 45000},
		{ProductID: "cd-1", Quantity: 1, UnitPrice: 25000},
	}, 10)
	if err != nil {
		t.Fatalf("ComputeTotals: %v", err)
	}
	if breakdown.Subtotal != 115000 {
		t.Fatalf("expected subtotal 115000, got %d", breakdown.Subtotal)
	}
	if breakdown.VAT != 11500 {
		t.Fatalf("expected vat 11500, got %d", breakdown.VAT)
	}
	if breakdown.TotalBeforeFees != 126500 {
		t.Fatalf("expected total 126500, got %d", breakdown.TotalBeforeFees)
	}
}

func TestComputeTotalsFloorsVAT(t *testing.T) {
	engine := newTestPricingEngine(t)

	breakdown, err := engine.ComputeTotals([]domain.OrderItem{{ProductID: "p", Quantity: 1, UnitPrice: 999}}, 10)
	if err != nil {
		t.Fatalf("ComputeTotals: %v", err)
	}
	if breakdown.VAT != 99 || breakdown.TotalBeforeFees != 1098 {
		t.Fatalf("expected vat 99 and total 1098, got %+v", breakdown)
	}
}

func TestComputeTotalsInvariantUnderReordering(t *testing.T) {
	engine := newTestPricingEngine(t)
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		items := make([]domain.OrderItem, 1+rng.Intn(8))
		for i := range items {
			items[i] = domain.OrderItem{
				ProductID: string(rune('a' + i)),
				Quantity:  1 + rng.Intn(5),
				UnitPrice: int64(rng.Intn(500000)),
			}
		}
		want, err := engine.ComputeTotals(items, 10)
		if err != nil {
			t.Fatalf("ComputeTotals: %v", err)
		}

		shuffled := append([]domain.OrderItem(nil), items...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got, err := engine.ComputeTotals(shuffled, 10)
		if err != nil {
			t.Fatalf("ComputeTotals shuffled: %v", err)
		}
		if got != want {
			t.Fatalf("round %d: totals changed under reordering: %+v vs %+v", round, got, want)
		}
	}
}

func TestComputeTotalsRejectsInvalidLines(t *testing.T) {
	engine := newTestPricingEngine(t)

	cases := map[string][]domain.OrderItem{
		"empty":          nil,
		"zero quantity":  {{ProductID: "p", Quantity: 0, UnitPrice: 100}},
		"negative price": {{ProductID: "p", Quantity: 1, UnitPrice: 100}, {ProductID: "q", Quantity: 1, UnitPrice: -1}},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := engine.ComputeTotals(items, 10)
			var lineErr *InvalidOrderLineError
			if !errors.As(err, &lineErr) {
				t.Fatalf("expected InvalidOrderLineError, got %v", err)
			}
			if !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected ErrOrderInvalidInput in chain, got %v", err)
			}
		})
	}
}

func TestTotalWeightKg(t *testing.T) {
	engine := newTestPricingEngine(t)

	got := engine.TotalWeightKg([]domain.OrderItem{
		{Quantity: 3, WeightKg: 0.4},
		{Quantity: 1, WeightKg: 0.25},
	})
	if got != 1.45 {
		t.Fatalf("expected 1.45kg, got %v", got)
	}
}

func TestComputeDeliveryFeeScenarioB(t *testing.T) {
	engine := newTestPricingEngine(t)

	if fee := engine.ComputeDeliveryFee("Hanoi", 3.4, false, 50000); fee != 22000 {
		t.Fatalf("expected 22000, got %d", fee)
	}
}

func TestComputeDeliveryFeeSchedule(t *testing.T) {
	engine := newTestPricingEngine(t)

	cases := []struct {
		name     string
		province string
		weight   float64
		rush     bool
		subtotal int64
		want     int64
	}{
		{"major below threshold", "Hà Nội", 1.0, false, 0, 22000},
		{"major excess exactly half kg", "Hà Nội", 3.5, false, 0, 22000},
		{"major just over half kg", "Hà Nội", 3.51, false, 0, 24500},
		{"major one kg over", "Hà Nội", 4.0, false, 0, 24500},
		{"major just over one kg", "Hà Nội", 4.01, false, 0, 27000},
		{"other at threshold", "Đà Nẵng", 0.5, false, 0, 30000},
		{"other excess half kg", "Đà Nẵng", 1.0, false, 0, 30000},
		{"other excess 0.7kg", "Đà Nẵng", 1.2, false, 0, 32500},
		{"free shipping floors at zero", "Hà Nội", 1.0, false, 150000, 0},
		{"free shipping partial", "Đà Nẵng", 1.0, false, 150000, 5000},
		{"threshold is exclusive", "Đà Nẵng", 1.0, false, 100000, 30000},
		{"rush ignores discount", "Hà Nội", 1.0, true, 150000, 32000},
		{"rush with weight", "TP. Hồ Chí Minh", 4.2, true, 0, 37000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := engine.ComputeDeliveryFee(tc.province, tc.weight, tc.rush, tc.subtotal); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestComputeDeliveryFeeNonDecreasingInWeight(t *testing.T) {
	engine := newTestPricingEngine(t)

	for _, province := range []string{"Hanoi", "Cần Thơ"} {
		prev := int64(-1)
		for grams := 0; grams <= 20000; grams += 10 {
			fee := engine.ComputeDeliveryFee(province, float64(grams)/1000, false, 0)
			if fee < prev {
				t.Fatalf("%s: fee decreased at %dg: %d < %d", province, grams, fee, prev)
			}
			prev = fee
		}
	}
}

func TestIsMajorLocalityFoldsNames(t *testing.T) {
	engine := newTestPricingEngine(t)

	for _, province := range []string{"Hanoi", "ha noi", "HÀ NỘI", "TP. Hồ Chí Minh", "Thành phố Hồ Chí Minh", "hcm", "Sai Gon"} {
		if !engine.IsMajorLocality(province) {
			t.Errorf("expected %q to be a major locality", province)
		}
	}
	for _, province := range []string{"Đà Nẵng", "Hải Phòng", ""} {
		if engine.IsMajorLocality(province) {
			t.Errorf("expected %q not to be a major locality", province)
		}
	}
}

func TestEstimateDelivery(t *testing.T) {
	engine := newTestPricingEngine(t)
	from := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)

	got, err := engine.EstimateDelivery("Hanoi", domain.DeliveryStandard, from)
	if err != nil || !got.Equal(from.Add(72*time.Hour)) {
		t.Fatalf("standard major: got %v, %v", got, err)
	}
	got, err = engine.EstimateDelivery("Huế", domain.DeliveryExpress, from)
	if err != nil || !got.Equal(from.Add(72*time.Hour)) {
		t.Fatalf("express other: got %v, %v", got, err)
	}
	got, err = engine.EstimateDelivery("HCM", domain.DeliveryRush, from)
	if err != nil || !got.Equal(from) {
		t.Fatalf("rush major: got %v, %v", got, err)
	}
	if _, err := engine.EstimateDelivery("Huế", domain.DeliveryRush, from); !errors.Is(err, ErrRushNotAvailable) {
		t.Fatalf("expected ErrRushNotAvailable, got %v", err)
	}
}

func TestPriceOrderAddsDeliveryFee(t *testing.T) {
	engine := newTestPricingEngine(t)

	totals, err := engine.PriceOrder([]domain.OrderItem{
		{ProductID: "book-1", Quantity: 2, UnitPrice: 45000, WeightKg: 0.5},
		{ProductID: "cd-1", Quantity: 1, UnitPrice: 25000, WeightKg: 0.1},
	}, 10, "Hanoi", false)
	if err != nil {
		t.Fatalf("PriceOrder: %v", err)
	}
	want := domain.OrderTotals{Subtotal: 115000, VAT: 11500, TotalAfterTax: 126500, DeliveryFee: 0, GrandTotal: 126500}
	if totals != want {
		t.Fatalf("expected %+v, got %+v", want, totals)
	}
}

func TestNewPricingEngineRejectsNegativeSchedule(t *testing.T) {
	schedule := domain.DefaultPricingSchedule()
	schedule.RushSurcharge = -1
	if _, err := NewPricingEngine(schedule); err == nil {
		t.Fatalf("expected error for negative surcharge")
	}
}
