package domain

// PricingSchedule is the immutable fee and tax configuration consumed by the pricing engine.
// Amounts are in minor currency units, weights in kilograms.
type PricingSchedule struct {
	VATRate                int64
	MajorProvinces         []string
	MajorBaseFee           int64
	OtherBaseFee           int64
	MajorWeightThresholdKg float64
	OtherWeightThresholdKg float64
	HalfKgIncrement        int64
	RushSurcharge          int64
	FreeShippingThreshold  int64
	FreeShippingDiscount   int64
}

// DefaultPricingSchedule returns the production fee schedule.
func DefaultPricingSchedule() PricingSchedule {
	return PricingSchedule{
		VATRate: 10,
		MajorProvinces: []string{
			"Hà Nội",
			"Hồ Chí Minh", "Ho Chi Minh City", "HCM", "Sài Gòn",
		},
		MajorBaseFee:           22000,
		OtherBaseFee:           30000,
		MajorWeightThresholdKg: 3.0,
		OtherWeightThresholdKg: 0.5,
		HalfKgIncrement:        2500,
		RushSurcharge:          10000,
		FreeShippingThreshold:  100000,
		FreeShippingDiscount:   25000,
	}
}

// PricingBreakdown is the result of pricing a set of order lines.
type PricingBreakdown struct {
	Subtotal        int64
	VAT             int64
	TotalBeforeFees int64
}
