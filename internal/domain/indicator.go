package domain

// Indicator names one of the supported anthropometric indicators.
type Indicator string

// Supported indicators.
const (
	IndicatorWeightForAge Indicator = "weight_for_age"
	IndicatorHeightForAge Indicator = "height_for_age"
	IndicatorBMIForAge    Indicator = "bmi_for_age"
)

// Indicators lists every supported indicator in reporting order.
var Indicators = []Indicator{IndicatorWeightForAge, IndicatorHeightForAge, IndicatorBMIForAge}

// Valid reports whether i is a supported indicator.
func (i Indicator) Valid() bool {
	switch i {
	case IndicatorWeightForAge, IndicatorHeightForAge, IndicatorBMIForAge:
		return true
	}
	return false
}

// DisplayName returns the label SISVAN reports use for the indicator.
func (i Indicator) DisplayName() string {
	switch i {
	case IndicatorWeightForAge:
		return "Peso-para-Idade (P/I)"
	case IndicatorHeightForAge:
		return "Altura-para-Idade (A/I)"
	case IndicatorBMIForAge:
		return "IMC-para-Idade (IMC/I)"
	default:
		return string(i)
	}
}
