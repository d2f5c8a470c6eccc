package services

import (
	"errors"
	"fmt"
	"math"
	"time"

	domain "github.com/mediashop/api/internal/domain"
	"github.com/mediashop/api/internal/platform/textutil"
)

const (
	gramsPerKg       = 1000
	weightStepGrams  = 500
	standardMajorETA = 3 * 24 * time.Hour
	standardOtherETA = 5 * 24 * time.Hour
	expressMajorETA  = 24 * time.Hour
	expressOtherETA  = 3 * 24 * time.Hour
)

// ErrRushNotAvailable is returned when rush delivery is requested outside the major localities.
var ErrRushNotAvailable = errors.New("pricing: rush delivery is only available in major localities")

// InvalidOrderLineError reports a line that cannot be priced. It wraps ErrOrderInvalidInput.
type InvalidOrderLineError struct {
	Index     int
	ProductID string
	Reason    string
}

func (e *InvalidOrderLineError) Error() string {
	if e == nil {
		return ""
	}
	if e.Index < 0 {
		return fmt.Sprintf("order: invalid order lines: %s", e.Reason)
	}
	if e.ProductID != "" {
		return fmt.Sprintf("order: invalid line %d (%s): %s", e.Index, e.ProductID, e.Reason)
	}
	return fmt.Sprintf("order: invalid line %d: %s", e.Index, e.Reason)
}

func (e *InvalidOrderLineError) Unwrap() error {
	return ErrOrderInvalidInput
}

// PricingEngine computes order totals and delivery fees from an immutable schedule. All
// operations are pure.
type PricingEngine struct {
	schedule domain.PricingSchedule
	majors   map[string]struct{}
}

// NewPricingEngine validates schedule and indexes its major localities.
func NewPricingEngine(schedule domain.PricingSchedule) (*PricingEngine, error) {
	if schedule.VATRate < 0 {
		return nil, errors.New("pricing engine: vat rate must not be negative")
	}
	if schedule.MajorBaseFee < 0 || schedule.OtherBaseFee < 0 || schedule.HalfKgIncrement < 0 ||
		schedule.RushSurcharge < 0 || schedule.FreeShippingDiscount < 0 {
		return nil, errors.New("pricing engine: fees must not be negative")
	}
	if schedule.MajorWeightThresholdKg < 0 || schedule.OtherWeightThresholdKg < 0 {
		return nil, errors.New("pricing engine: weight thresholds must not be negative")
	}
	majors := make(map[string]struct{}, len(schedule.MajorProvinces))
	for _, province := range schedule.MajorProvinces {
		if key := textutil.FoldLocality(province); key != "" {
			majors[key] = struct{}{}
		}
	}
	schedule.MajorProvinces = append([]string(nil), schedule.MajorProvinces...)
	return &PricingEngine{schedule: schedule, majors: majors}, nil
}

// Schedule returns a copy of the configured schedule.
func (e *PricingEngine) Schedule() domain.PricingSchedule {
	out := e.schedule
	out.MajorProvinces = append([]string(nil), e.schedule.MajorProvinces...)
	return out
}

// ComputeTotals sums the lines and applies VAT, rounding down to the minor unit.
func (e *PricingEngine) ComputeTotals(items []domain.OrderItem, vatRate int64) (domain.PricingBreakdown, error) {
	if len(items) == 0 {
		return domain.PricingBreakdown{}, &InvalidOrderLineError{Index: -1, Reason: "at least one item is required"}
	}
	if vatRate < 0 {
		return domain.PricingBreakdown{}, fmt.Errorf("%w: vat rate must not be negative", ErrOrderInvalidInput)
	}
	var subtotal int64
	for i, item := range items {
		if item.Quantity <= 0 {
			return domain.PricingBreakdown{}, &InvalidOrderLineError{Index: i, ProductID: item.ProductID, Reason: "quantity must be positive"}
		}
		if item.UnitPrice < 0 {
			return domain.PricingBreakdown{}, &InvalidOrderLineError{Index: i, ProductID: item.ProductID, Reason: "unit price must not be negative"}
		}
		subtotal += int64(item.Quantity) * item.UnitPrice
	}
	vat := subtotal * vatRate / 100
	return domain.PricingBreakdown{
		Subtotal:        subtotal,
		VAT:             vat,
		TotalBeforeFees: subtotal + vat,
	}, nil
}

// TotalWeightKg aggregates quantity times unit weight.
func (e *PricingEngine) TotalWeightKg(items []domain.OrderItem) float64 {
	var grams int64
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		grams += int64(item.Quantity) * kgToGrams(item.WeightKg)
	}
	return float64(grams) / gramsPerKg
}

// IsMajorLocality reports whether province matches one of the schedule's major localities,
// ignoring case, diacritics and administrative prefixes.
func (e *PricingEngine) IsMajorLocality(province string) bool {
	_, ok := e.majors[textutil.FoldLocality(province)]
	return ok
}

// ComputeDeliveryFee applies the tiered schedule. The free shipping discount only ever reduces
// the normal fee; a rush order is charged the undiscounted normal fee plus the surcharge.
func (e *PricingEngine) ComputeDeliveryFee(province string, totalWeightKg float64, rush bool, subtotal int64) int64 {
	base := e.schedule.OtherBaseFee
	threshold := e.schedule.OtherWeightThresholdKg
	if e.IsMajorLocality(province) {
		base = e.schedule.MajorBaseFee
		threshold = e.schedule.MajorWeightThresholdKg
	}

	fee := base
	excess := kgToGrams(totalWeightKg) - kgToGrams(threshold)
	for excess > weightStepGrams {
		fee += e.schedule.HalfKgIncrement
		excess -= weightStepGrams
	}

	rushFee := fee + e.schedule.RushSurcharge
	if subtotal > e.schedule.FreeShippingThreshold {
		fee -= e.schedule.FreeShippingDiscount
		if fee < 0 {
			fee = 0
		}
	}
	if rush {
		return rushFee
	}
	return fee
}

// EstimateDelivery returns the promised delivery time for an order placed at from.
func (e *PricingEngine) EstimateDelivery(province string, deliveryType domain.DeliveryType, from time.Time) (time.Time, error) {
	major := e.IsMajorLocality(province)
	switch deliveryType {
	case domain.DeliveryStandard, "":
		if major {
			return from.Add(standardMajorETA), nil
		}
		return from.Add(standardOtherETA), nil
	case domain.DeliveryExpress:
		if major {
			return from.Add(expressMajorETA), nil
		}
		return from.Add(expressOtherETA), nil
	case domain.DeliveryRush:
		if !major {
			return time.Time{}, ErrRushNotAvailable
		}
		return from, nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown delivery type %q", ErrOrderInvalidInput, deliveryType)
	}
}

// PriceOrder derives the full totals for items delivered to province.
func (e *PricingEngine) PriceOrder(items []domain.OrderItem, vatRate int64, province string, rush bool) (domain.OrderTotals, error) {
	breakdown, err := e.ComputeTotals(items, vatRate)
	if err != nil {
		return domain.OrderTotals{}, err
	}
	fee := e.ComputeDeliveryFee(province, e.TotalWeightKg(items), rush, breakdown.Subtotal)
	return domain.OrderTotals{
		Subtotal:      breakdown.Subtotal,
		VAT:           breakdown.VAT,
		TotalAfterTax: breakdown.TotalBeforeFees,
		DeliveryFee:   fee,
		GrandTotal:    breakdown.TotalBeforeFees + fee,
	}, nil
}

func kgToGrams(kg float64) int64 {
	if kg <= 0 || math.IsNaN(kg) {
		return 0
	}
	return int64(math.Round(kg * gramsPerKg))
}
