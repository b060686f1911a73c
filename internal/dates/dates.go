// Package dates computes business target dates and extracts report dates
// from free text.
//
// Two extraction modes are provided. The strict mode pairs a regex with a Go
// reference layout; the flexible mode reads named day/month/year captures and
// accepts numeric or abbreviated months. Both normalize to YYYY-MM-DD and
// return typed failures instead of panicking, so callers can tell "not this
// candidate" apart from real defects.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"frontpipe/pkg/errors"
)

// Layout is the canonical target date layout.
const Layout = "2006-01-02"

// DefaultTimeZone is the business time zone target dates are computed in.
const DefaultTimeZone = "America/New_York"

// Supported target date rules.
const (
	RuleToday      = "today"
	RulePrevBizday = "prev_bizday"
)

// Resolver computes target dates in a fixed business time zone. It is
// stateless and deterministic for a given rule and reference instant.
type Resolver struct {
	loc *time.Location
}

// NewResolver creates a resolver for the named time zone.
func NewResolver(timezone string) (*Resolver, error) {
	if timezone == "" {
		timezone = DefaultTimeZone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errors.ConfigError(errors.CodeInvalidConfig, "business_timezone", timezone, err)
	}
	return &Resolver{loc: loc}, nil
}

// TargetDate computes the canonical YYYY-MM-DD target date for the given
// rule and reference instant.
func (r *Resolver) TargetDate(rule string, now time.Time) (string, error) {
	local := now.In(r.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.loc)

	switch rule {
	case RuleToday:
		// keep the business-zone calendar date as-is
	case RulePrevBizday:
		switch day.Weekday() {
		case time.Monday:
			day = day.AddDate(0, 0, -3)
		case time.Sunday:
			day = day.AddDate(0, 0, -2)
		default:
			day = day.AddDate(0, 0, -1)
		}
	default:
		return "", errors.ConfigError(errors.CodeUnsupportedDateRule, "target_date_rule", rule, nil)
	}

	return day.Format(Layout), nil
}

// CalendarDate returns the business-zone calendar date of an instant.
func (r *Resolver) CalendarDate(t time.Time) string {
	return t.In(r.loc).Format(Layout)
}

// Extract applies the regex to the text and parses the date substring with
// the supplied Go reference layout. If the regex defines a named capture
// "ymd" that group is used, otherwise the whole match. The result is a
// normalized YYYY-MM-DD string.
func Extract(text, pattern, layout string) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", errors.ConfigError(errors.CodeInvalidPattern, "date_pattern", pattern, err)
	}

	match := re.FindStringSubmatch(text)
	if match == nil {
		return "", errors.ExtractionError(errors.CodeNoMatch, text, nil)
	}

	value := match[0]
	for i, name := range re.SubexpNames() {
		if name == "ymd" && i < len(match) {
			value = match[i]
			break
		}
	}

	parsed, err := time.Parse(layout, value)
	if err != nil {
		return "", errors.ExtractionError(errors.CodeParseFailed, value, err)
	}

	return parsed.Format(Layout), nil
}

// Date orders accepted by the flexible extractor.
const (
	OrderDayMonthYear = "dmy"
	OrderMonthDayYear = "mdy"
)

var monthAbbrevs = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// ExtractFlexible parses a human-readable subject date. The regex must
// expose named captures "day", "month" and "year". The month may be numeric
// or a three-letter abbreviation (case-insensitive); when it is numeric the
// order flag decides whether the day and month captures are swapped. Years
// must be four digits: two-digit years are ambiguous and fail rather than
// guess a century.
func ExtractFlexible(text, pattern, order string) (string, error) {
	if order == "" {
		order = OrderDayMonthYear
	}
	if order != OrderDayMonthYear && order != OrderMonthDayYear {
		return "", errors.ConfigError(errors.CodeInvalidConfig, "date_order", order, nil)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", errors.ConfigError(errors.CodeInvalidPattern, "date_pattern", pattern, err)
	}

	groups := map[string]string{}
	match := re.FindStringSubmatch(text)
	if match == nil {
		return "", errors.ExtractionError(errors.CodeNoMatch, text, nil)
	}
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(match) {
			groups[name] = match[i]
		}
	}

	dayStr, monthStr, yearStr := groups["day"], groups["month"], groups["year"]
	if dayStr == "" || monthStr == "" || yearStr == "" {
		return "", errors.ConfigError(errors.CodeInvalidPattern, "date_pattern", pattern,
			fmt.Errorf("flexible date pattern needs day/month/year named captures"))
	}

	if len(yearStr) != 4 {
		return "", errors.ExtractionError(errors.CodeParseFailed, yearStr,
			fmt.Errorf("year must be four digits"))
	}
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return "", errors.ExtractionError(errors.CodeParseFailed, yearStr, err)
	}

	var month time.Month
	if m, ok := monthAbbrevs[strings.ToLower(monthStr)]; ok {
		month = m
	} else {
		monthNum, err := strconv.Atoi(monthStr)
		if err != nil {
			return "", errors.ExtractionError(errors.CodeParseFailed, monthStr, err)
		}
		if order == OrderMonthDayYear {
			// numeric captures are positional, so mdy swaps them
			dayStr, monthNum = strconv.Itoa(monthNum), mustAtoi(dayStr)
		}
		if monthNum < 1 || monthNum > 12 {
			return "", errors.ExtractionError(errors.CodeParseFailed, monthStr,
				fmt.Errorf("month %d out of range", monthNum))
		}
		month = time.Month(monthNum)
	}

	day, err := strconv.Atoi(dayStr)
	if err != nil {
		return "", errors.ExtractionError(errors.CodeParseFailed, dayStr, err)
	}

	date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if date.Year() != year || date.Month() != month || date.Day() != day {
		return "", errors.ExtractionError(errors.CodeParseFailed, text,
			fmt.Errorf("day %d does not exist in %s %d", day, month, year))
	}

	return date.Format(Layout), nil
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// FormatIsFlexible reports whether a feed's report date format selects the
// flexible extractor ("auto" or "auto:<order>").
func FormatIsFlexible(format string) bool {
	return strings.HasPrefix(format, "auto")
}

// FlexibleOrder returns the day/month order encoded in an "auto" format
// string, defaulting to day-month-year.
func FlexibleOrder(format string) string {
	if idx := strings.Index(format, ":"); idx >= 0 {
		return format[idx+1:]
	}
	return OrderDayMonthYear
}

// ExtractWithFormat dispatches between the strict and flexible extractors
// based on the feed's report date format convention.
func ExtractWithFormat(text, pattern, format string) (string, error) {
	if FormatIsFlexible(format) {
		return ExtractFlexible(text, pattern, FlexibleOrder(format))
	}
	return Extract(text, pattern, format)
}
