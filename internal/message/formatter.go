package message

import (
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	xmessage "golang.org/x/text/message"
	"golang.org/x/text/number"

	"qgnotify/internal/domain"
)

// percentMetrics lists metrics rendered with a percent unit.
var percentMetrics = map[string]struct{}{
	"new_coverage":                 {},
	"new_sqale_debt_ratio":         {},
	"coverage":                     {},
	"sqale_debt_ratio":             {},
	"new_duplicated_lines_density": {},
	"duplicated_lines_density":     {},
}

var errNonFinite = errors.New("value is not a finite number")

// IsPercentMetric reports whether metric values carry a percent unit.
func IsPercentMetric(metricKey string) bool {
	_, ok := percentMetrics[metricKey]
	return ok
}

// FormatCondition renders one quality gate condition as a message field.
// Params: condition, metric namer, locale, and logger for unparseable values.
// Returns: field with title and threshold summary; never fails.
func FormatCondition(cond domain.Condition, names MetricNamer, tag language.Tag, logger *slog.Logger) domain.Field {
	name := names.MetricName(tag, cond.MetricKey)
	if cond.Status == domain.EvaluationNoValue {
		return domain.Field{
			Title: name,
			Value: string(cond.Status),
			Short: true,
		}
	}

	percent := IsPercentMetric(cond.MetricKey)
	unit := ""
	if percent {
		unit = "%"
	}

	var sb strings.Builder
	switch {
	case cond.Value == "":
		sb.WriteString("-")
	case percent:
		sb.WriteString(formatPercent(cond.Value, tag, logger))
	default:
		sb.WriteString(cond.Value)
	}
	sb.WriteString(unit)

	if cond.WarningThreshold != nil {
		sb.WriteString(", warning if ")
		sb.WriteString(cond.Operator.Symbol())
		sb.WriteString(*cond.WarningThreshold)
		sb.WriteString(unit)
	}
	if cond.ErrorThreshold != nil {
		sb.WriteString(", error if ")
		sb.WriteString(cond.Operator.Symbol())
		sb.WriteString(*cond.ErrorThreshold)
		sb.WriteString(unit)
	}

	return domain.Field{
		Title: name + ": " + string(cond.Status),
		Value: sb.String(),
		Short: false,
	}
}

// formatPercent rounds a decimal value to at most two fraction digits with locale grouping.
// Params: raw value, locale, and logger.
// Returns: formatted number, or raw value when it does not parse to a finite number.
func formatPercent(raw string, tag language.Tag, logger *slog.Logger) string {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err == nil && (math.IsNaN(value) || math.IsInf(value, 0)) {
		err = errNonFinite
	}
	if err != nil {
		if logger != nil {
			logger.Error("failed to parse condition value", "value", raw, "error", err)
		}
		return raw
	}
	return xmessage.NewPrinter(tag).Sprint(number.Decimal(value, number.MaxFractionDigits(2)))
}
