package filters

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// CleanDecimal parses a localized number into an exact decimal.Decimal.
type CleanDecimal struct {
	Source Filter
	// Thousands is the set of characters used as thousands separators.
	Thousands string
	// Decimal is the decimal separator. When both Thousands and Decimal are
	// empty the separators are detected between the digits: the last of ',' and
	// '.' is the decimal separator, a single kind repeated more than once groups
	// thousands.
	Decimal string
	// Sign returns the multiplier to apply, it receives the cleaned original text.
	Sign    func(text string) int
	Default *Fallback
}

// DecimalUS reads 1,234.56.
func DecimalUS(src Filter) CleanDecimal {
	return CleanDecimal{Source: src, Thousands: ",", Decimal: "."}
}

// DecimalFrench reads 1 234,56 and 1.234,56.
func DecimalFrench(src Filter) CleanDecimal {
	return CleanDecimal{Source: src, Thousands: ". \u00a0\u202f", Decimal: ","}
}

// DecimalSI reads 1 234.56.
func DecimalSI(src Filter) CleanDecimal {
	return CleanDecimal{Source: src, Thousands: " \u00a0\u202f", Decimal: "."}
}

func (f CleanDecimal) String() string {
	return fmt.Sprintf("CleanDecimal(%s)", Describe(f.Source))
}

func (f CleanDecimal) Apply(ctx Context) (any, error) {
	v, err := input(ctx, "CleanDecimal", f.Source)
	if err != nil {
		return orDefault(f.Default, err)
	}

	var original string
	switch t := v.(type) {
	case decimal.Decimal:
		return f.sign(t, t.String()), nil
	case int:
		original = strconv.Itoa(t)
	case int64:
		original = strconv.FormatInt(t, 10)
	case float64:
		d := decimal.NewFromFloat(t)
		return f.sign(d, d.String()), nil
	case json.Number:
		if d, err := decimal.NewFromString(t.String()); err == nil {
			return f.sign(d, t.String()), nil
		}
		original = t.String()
	default:
		original = TextOf(v)
	}

	d, err := ParseDecimal(original, f.Thousands, f.Decimal)
	if err != nil {
		return orDefault(f.Default, fail("CleanDecimal", Describe(f.Source), ErrFormat, "%q: %v", original, err))
	}
	return f.sign(d, original), nil
}

func (f CleanDecimal) sign(d decimal.Decimal, original string) decimal.Decimal {
	if f.Sign == nil {
		return d
	}
	return d.Mul(decimal.NewFromInt(int64(f.Sign(original))))
}

// ParseDecimal parses text with the given separators, or detected ones when
// both are empty. Only the span from the sign or first digit to the last digit
// is read, so currency symbols and surrounding punctuation are ignored.
func ParseDecimal(text, thousands, decimalSep string) (decimal.Decimal, error) {
	text = strings.ReplaceAll(text, "\u2212", "-")

	span, err := numberSpan(text)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if thousands == "" && decimalSep == "" {
		thousands, decimalSep, err = detectSeparators(span)
		if err != nil {
			return decimal.Decimal{}, err
		}
	}

	var out strings.Builder
	for _, r := range span {
		switch {
		case decimalSep != "" && strings.ContainsRune(decimalSep, r):
			out.WriteRune('.')
		case thousands != "" && strings.ContainsRune(thousands, r):
		case r >= '0' && r <= '9', r == '-':
			out.WriteRune(r)
		case r == '.' && decimalSep == "":
			out.WriteRune(r)
		}
	}
	cleaned := out.String()
	if rest, ok := strings.CutPrefix(cleaned, "-."); ok {
		cleaned = "-0." + rest
	} else if strings.HasPrefix(cleaned, ".") {
		cleaned = "0" + cleaned
	}
	return decimal.NewFromString(cleaned)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// numberSpan returns text from the sign or leading separator of the first
// digit to the last digit.
func numberSpan(text string) (string, error) {
	runes := []rune(text)
	first, last := -1, -1
	for i, r := range runes {
		if isDigit(r) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return "", fmt.Errorf("no number in %q", text)
	}

	start := first
	if start > 0 && (runes[start-1] == '.' || runes[start-1] == ',') &&
		(start == 1 || unicode.IsSpace(runes[start-2]) || runes[start-2] == '-') {
		start--
	}
	j := start - 1
	for j >= 0 && unicode.IsSpace(runes[j]) {
		j--
	}
	if j >= 0 && runes[j] == '-' {
		start = j
	}

	span := runes[start : last+1]
	for _, r := range span {
		if unicode.IsLetter(r) {
			return "", fmt.Errorf("several numbers in %q", text)
		}
	}
	return string(span), nil
}

// detectSeparators picks the separators of a number span. The last of ',' and
// '.' is the decimal separator when both appear; a kind that appears more than
// once groups thousands and every group it starts must have three digits.
func detectSeparators(span string) (thousands, decimalSep string, err error) {
	lastComma := strings.LastIndex(span, ",")
	lastDot := strings.LastIndex(span, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			thousands, decimalSep = ".", ","
		} else {
			thousands, decimalSep = ",", "."
		}
		if strings.Count(span, decimalSep) > 1 {
			return "", "", fmt.Errorf("ambiguous separators in %q", span)
		}
	case lastComma >= 0:
		if strings.Count(span, ",") > 1 {
			thousands = ","
		} else {
			decimalSep = ","
		}
	case lastDot >= 0:
		if strings.Count(span, ".") > 1 {
			thousands = "."
		} else {
			decimalSep = "."
		}
	}

	if thousands != "" && !groupsOfThree(span, thousands, decimalSep) {
		return "", "", fmt.Errorf("ambiguous separators in %q", span)
	}
	return thousands, decimalSep, nil
}

// groupsOfThree reports whether every thousands separator is followed by
// exactly three digits.
func groupsOfThree(span, thousands, decimalSep string) bool {
	digits := -1
	for _, r := range span {
		switch {
		case isDigit(r):
			if digits >= 0 {
				digits++
			}
		case strings.ContainsRune(thousands, r):
			if digits >= 0 && digits != 3 {
				return false
			}
			digits = 0
		case decimalSep != "" && strings.ContainsRune(decimalSep, r):
			if digits >= 0 && digits != 3 {
				return false
			}
			digits = -1
		}
	}
	return digits < 0 || digits == 3
}

// Int parses its input text as an integer.
type Int struct {
	Source  Filter
	Default *Fallback
}

func (f Int) Apply(ctx Context) (any, error) {
	v, err := input(ctx, "Int", f.Source)
	if err != nil {
		return orDefault(f.Default, err)
	}
	txt := strings.ReplaceAll(TextOf(v), " ", "")
	n, err := strconv.Atoi(txt)
	if err != nil {
		return orDefault(f.Default, fail("Int", Describe(f.Source), ErrFormat, "%q", txt))
	}
	return n, nil
}
