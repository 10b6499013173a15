package engine

import (
	"regexp"
	"strconv"
	"time"

	"whaleflow/models"
)

// OCC ticker layout: 1-6 letter underlying, YYMMDD expiration, C or P,
// strike in thousandths of a dollar padded to 8 digits.
var occSymbolRegexp = regexp.MustCompile(`^([A-Z]{1,6})(\d{6})([CP])(\d{8})$`)

// ParseOptionSymbol decodes an OCC-style option ticker such as
// AAPL251219C00275000. It returns nil when the input does not match the
// fixed-width pattern; callers treat such trades as plain equity prints.
// A matching symbol with an impossible date (e.g. day 32) still parses, with
// the zero Expiration and the raw digits kept for display.
func ParseOptionSymbol(symbol string) *models.OptionSymbol {
	m := occSymbolRegexp.FindStringSubmatch(symbol)
	if m == nil {
		return nil
	}

	// The strike group is all digits, so ParseInt cannot fail.
	strikeThousandths, _ := strconv.ParseInt(m[4], 10, 64)

	optType := models.OptionCall
	if m[3] == "P" {
		optType = models.OptionPut
	}

	parsed := &models.OptionSymbol{
		Symbol:         symbol,
		Underlying:     m[1],
		ExpirationText: m[2],
		Type:           optType,
		Strike:         float64(strikeThousandths) / 1000,
	}

	if exp, err := time.Parse("060102", m[2]); err == nil {
		parsed.Expiration = exp
	}

	return parsed
}
