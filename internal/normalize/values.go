package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// asString renders a loosely-typed cell as trimmed text.
func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(b))
	}
}

// asFloat parses numbers leniently: spaces and thousands separators are
// dropped, a decimal comma is accepted. Anything unparseable is 0.
func asFloat(v interface{}) float64 {
	f, ok := parseFloat(v)
	if !ok {
		return 0
	}
	return f
}

// asOptionalFloat is asFloat that distinguishes absent or malformed values.
func asOptionalFloat(v interface{}) *float64 {
	f, ok := parseFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func parseFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case float64:
		return finite(t)
	case float32:
		return finite(float64(t))
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return finite(f)
	case bool:
		return 0, false
	}

	s := asString(v)
	if s == "" {
		return 0, false
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', ' ', ' ', '_', '₽':
			return -1
		}
		return r
	}, s)
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return finite(f)
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// asPrice converts a cell to a non-negative whole price.
func asPrice(v interface{}) int64 {
	f := asFloat(v)
	if f <= 0 {
		return 0
	}
	return int64(math.Round(f))
}

// asBool accepts true, 1, yes, да (any case).
func asBool(v interface{}) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	switch strings.ToLower(asString(v)) {
	case "1", "true", "yes", "да":
		return true
	}
	return false
}

var dateLayouts = []string{"2006-01-02", "02.01.2006", "2006-01-02T15:04:05Z07:00", "2006/01/02", "02/01/2006"}

// asDate normalizes a date cell to YYYY-MM-DD when it parses; other text is
// kept as-is so nothing the source said is lost.
func asDate(v interface{}) *string {
	if t, ok := v.(time.Time); ok {
		s := t.Format("2006-01-02")
		return &s
	}
	s := asString(v)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			out := t.Format("2006-01-02")
			return &out
		}
	}
	return &s
}

// roundTo rounds f to the given number of decimal places.
func roundTo(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}
