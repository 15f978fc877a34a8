package domain

import "fmt"

// TestType is the discriminant shared by test requests and results.
type TestType string

const (
	Soil     TestType = "soil"
	Concrete TestType = "concrete"
	Asphalt  TestType = "asphalt"
)

var TestTypes = []string{string(Soil), string(Concrete), string(Asphalt)}

func ParseTestType(s string) (TestType, bool) {
	switch TestType(s) {
	case Soil, Concrete, Asphalt:
		return TestType(s), true
	}
	return "", false
}

type SoilMeasurements struct {
	MoistureContent *float64 `json:"moisture_content,omitempty" doc:"%"`
	DryDensity      *float64 `json:"dry_density,omitempty" doc:"g/cm3"`
	LiquidLimit     *float64 `json:"liquid_limit,omitempty"`
	PlasticLimit    *float64 `json:"plastic_limit,omitempty"`
	PlasticityIndex *float64 `json:"plasticity_index,omitempty"`
	CBR             *float64 `json:"cbr,omitempty" doc:"%"`
}

type ConcreteMeasurements struct {
	CompressiveStrength *float64 `json:"compressive_strength,omitempty" doc:"MPa"`
	Slump               *float64 `json:"slump,omitempty" doc:"cm"`
	Temperature         *float64 `json:"temperature,omitempty" doc:"°C"`
	Density             *float64 `json:"density,omitempty" doc:"kg/m3"`
	CementType          string   `json:"cement_type,omitempty"`
	WaterCementRatio    *float64 `json:"water_cement_ratio,omitempty"`
}

type AsphaltMeasurements struct {
	Penetration     *float64 `json:"penetration,omitempty" doc:"0.1 mm"`
	SofteningPoint  *float64 `json:"softening_point,omitempty" doc:"°C"`
	Ductility       *float64 `json:"ductility,omitempty" doc:"cm"`
	SpecificGravity *float64 `json:"specific_gravity,omitempty"`
	AsphaltType     string   `json:"asphalt_type,omitempty"`
	BitumenContent  *float64 `json:"bitumen_content,omitempty" doc:"%"`
}

// Measurements is a tagged variant: Kind selects which payload is populated.
type Measurements struct {
	Kind     TestType              `json:"kind" enum:"soil,concrete,asphalt"`
	Soil     *SoilMeasurements     `json:"soil,omitempty"`
	Concrete *ConcreteMeasurements `json:"concrete,omitempty"`
	Asphalt  *AsphaltMeasurements  `json:"asphalt,omitempty"`
}

// EmptyMeasurements returns a variant of the kind with no values recorded.
func EmptyMeasurements(kind TestType) Measurements {
	m := Measurements{Kind: kind}
	switch kind {
	case Soil:
		m.Soil = &SoilMeasurements{}
	case Concrete:
		m.Concrete = &ConcreteMeasurements{}
	case Asphalt:
		m.Asphalt = &AsphaltMeasurements{}
	}
	return m
}

// Normalize fills derived values.
func (m *Measurements) Normalize() {
	if m.Soil != nil && m.Soil.PlasticityIndex == nil && m.Soil.LiquidLimit != nil && m.Soil.PlasticLimit != nil {
		pi := *m.Soil.LiquidLimit - *m.Soil.PlasticLimit
		m.Soil.PlasticityIndex = &pi
	}
}

// Validate checks the payload matches the discriminant and values are in range.
func (m Measurements) Validate(kind TestType) error {
	if m.Kind == "" {
		m.Kind = kind
	}
	if m.Kind != kind {
		return ValidationError{Field: "measurements.kind", Reason: fmt.Sprintf("must be %s for this request", kind)}
	}
	set := 0
	for _, present := range []bool{m.Soil != nil, m.Concrete != nil, m.Asphalt != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		return ValidationError{Field: "measurements", Reason: "exactly one payload allowed"}
	}
	switch kind {
	case Soil:
		if m.Concrete != nil || m.Asphalt != nil {
			return ValidationError{Field: "measurements.soil", Reason: "soil payload required"}
		}
		if s := m.Soil; s != nil {
			if err := nonNegative("measurements.soil", map[string]*float64{
				"moisture_content": s.MoistureContent,
				"dry_density":      s.DryDensity,
				"liquid_limit":     s.LiquidLimit,
				"plastic_limit":    s.PlasticLimit,
				"cbr":              s.CBR,
			}); err != nil {
				return err
			}
			if s.LiquidLimit != nil && s.PlasticLimit != nil && *s.PlasticLimit > *s.LiquidLimit {
				return ValidationError{Field: "measurements.soil.plastic_limit", Reason: "cannot exceed liquid_limit"}
			}
		}
	case Concrete:
		if m.Soil != nil || m.Asphalt != nil {
			return ValidationError{Field: "measurements.concrete", Reason: "concrete payload required"}
		}
		if c := m.Concrete; c != nil {
			if err := nonNegative("measurements.concrete", map[string]*float64{
				"compressive_strength": c.CompressiveStrength,
				"slump":                c.Slump,
				"density":              c.Density,
				"water_cement_ratio":   c.WaterCementRatio,
			}); err != nil {
				return err
			}
		}
	case Asphalt:
		if m.Soil != nil || m.Concrete != nil {
			return ValidationError{Field: "measurements.asphalt", Reason: "asphalt payload required"}
		}
		if a := m.Asphalt; a != nil {
			if err := nonNegative("measurements.asphalt", map[string]*float64{
				"penetration":      a.Penetration,
				"ductility":        a.Ductility,
				"specific_gravity": a.SpecificGravity,
				"bitumen_content":  a.BitumenContent,
			}); err != nil {
				return err
			}
			if a.BitumenContent != nil && *a.BitumenContent > 100 {
				return ValidationError{Field: "measurements.asphalt.bitumen_content", Reason: "must be a percentage"}
			}
		}
	default:
		return ValidationError{Field: "measurements.kind", Reason: "unknown test type"}
	}
	return nil
}

// Rows flattens the populated payload into label/value pairs in a stable order.
func (m Measurements) Rows() [][2]any {
	var rows [][2]any
	add := func(label string, v *float64) {
		if v != nil {
			rows = append(rows, [2]any{label, *v})
		} else {
			rows = append(rows, [2]any{label, ""})
		}
	}
	switch {
	case m.Soil != nil:
		s := m.Soil
		add("Moisture content (%)", s.MoistureContent)
		add("Dry density (g/cm3)", s.DryDensity)
		add("Liquid limit", s.LiquidLimit)
		add("Plastic limit", s.PlasticLimit)
		add("Plasticity index", s.PlasticityIndex)
		add("CBR (%)", s.CBR)
	case m.Concrete != nil:
		c := m.Concrete
		add("Compressive strength (MPa)", c.CompressiveStrength)
		add("Slump (cm)", c.Slump)
		add("Temperature (°C)", c.Temperature)
		add("Density (kg/m3)", c.Density)
		rows = append(rows, [2]any{"Cement type", c.CementType})
		add("Water/cement ratio", c.WaterCementRatio)
	case m.Asphalt != nil:
		a := m.Asphalt
		add("Penetration (0.1 mm)", a.Penetration)
		add("Softening point (°C)", a.SofteningPoint)
		add("Ductility (cm)", a.Ductility)
		add("Specific gravity", a.SpecificGravity)
		rows = append(rows, [2]any{"Asphalt type", a.AsphaltType})
		add("Bitumen content (%)", a.BitumenContent)
	}
	return rows
}

func nonNegative(prefix string, values map[string]*float64) error {
	for name, v := range values {
		if v != nil && *v < 0 {
			return ValidationError{Field: prefix + "." + name, Reason: "must not be negative"}
		}
	}
	return nil
}
