package xlsx

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/xuri/excelize/v2"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
	timeLayout     = "15:04:05"

	// maxDateSerial is 9999-12-31. Larger numbers shown through a
	// digit-grouping format (000-00-0000) are not dates.
	maxDateSerial = 2958465
)

var (
	// Full dates use the same separator twice: 2024-01-15, 01/15/24, 15.01.2024.
	fullDate  = regexp.MustCompile(`\d{1,4}([/\-.])\d{1,2}([/\-.])\d{1,4}`)
	clockTime = regexp.MustCompile(`\d{1,2}:\d{2}`)
	monthName = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\b`)
)

// canonical converts one cell to the text handed downstream.
//
// raw is the stored value (excelize RawCellValue) and shown is the value
// rendered with the cell's number format. Type-bearing cells are detected by
// comparing the two:
//   - booleans (raw 1/0 shown as TRUE/FALSE) become "true"/"false"
//   - numbers shown as dates or times become 2006-01-02, 2006-01-02 15:04:05
//     or 15:04:05
//   - other numbers become invariant decimal text at 15 significant digits,
//     with grouping, currency and percent formatting removed
//
// Anything else is returned as stored. Empty cells yield "".
func canonical(raw, shown string, date1904 bool) string {
	if raw == "" {
		return ""
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}

	if raw == "1" || raw == "0" {
		switch {
		case strings.EqualFold(shown, "TRUE"):
			return "true"
		case strings.EqualFold(shown, "FALSE"):
			return "false"
		}
	}

	// Stored numbers are already invariant; identical text also covers
	// numeric-looking strings such as "007".
	if shown == raw {
		return raw
	}
	if looksLikeDate(shown) {
		if s, ok := serialToText(v, date1904); ok {
			return s
		}
	}
	return invariantNumber(v)
}

func looksLikeDate(shown string) bool {
	if fullDate.MatchString(shown) || clockTime.MatchString(shown) {
		return true
	}
	return monthName.MatchString(shown) && strings.IndexFunc(shown, unicode.IsDigit) >= 0
}

func serialToText(v float64, date1904 bool) (string, bool) {
	if v < 0 || v > maxDateSerial {
		return "", false
	}
	t, err := excelize.ExcelDateToTime(v, date1904)
	if err != nil || t.Year() > 9999 {
		return "", false
	}
	t = t.Round(time.Second)
	switch {
	case v < 1:
		return t.Format(timeLayout), true
	case t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0:
		return t.Format(dateLayout), true
	default:
		return t.Format(dateTimeLayout), true
	}
}

// invariantNumber renders v with Excel's 15-digit precision and no exponent.
func invariantNumber(v float64) string {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'g', 15, 64), 64)
	if err != nil {
		r = v
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}
