package domain

import (
	"fmt"
	"math"
	"strconv"
)

// FIN is a fixed-point amount of the FIN token, stored as nano-FIN
// (1e-9 FIN) so ledger arithmetic never touches float64. It maps
// directly onto the NUMERIC(30,9) columns in the Postgres schema.
type FIN int64

const finScale = 1_000_000_000

// FINFromFloat rounds a float64 FIN amount to the nearest nano-FIN.
// Formula composition (rates, multipliers, EMAs) happens in float64;
// the result is only ever converted to FIN at the point it is about to
// be journaled or credited.
func FINFromFloat(v float64) FIN {
	return FIN(math.Round(v * finScale))
}

// Float64 returns the FIN amount as a float64, for use in formulas that
// are not ledger-critical (e.g. reporting, whale regression input).
func (f FIN) Float64() float64 {
	return float64(f) / finScale
}

func (f FIN) String() string {
	whole := int64(f) / finScale
	frac := int64(f) % finScale
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%09d", whole, frac)
}

// ParseFIN parses a decimal string (as NUMERIC(30,9) would render it)
// into a FIN value.
func ParseFIN(s string) (FIN, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse FIN %q: %w", s, err)
	}
	return FINFromFloat(v), nil
}

func (f FIN) Add(other FIN) FIN { return f + other }
func (f FIN) Sub(other FIN) FIN { return f - other }

// MarshalJSON encodes FIN as a decimal string so API consumers never
// lose precision to JSON's float64 number type.
func (f FIN) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.String() + `"`), nil
}

func (f *FIN) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := ParseFIN(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}
