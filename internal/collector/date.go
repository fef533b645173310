package collector

import (
	"strings"
	"time"
)

// 常用日期格式（占位符写法），分别对应 "Mar 5, 2024" 与 "March 5, 2024"
const (
	FormatShortMonth = "{MONTH_SHORT} {DAY_NUM}, {YEAR_LONG}"
	FormatLongMonth  = "{MONTH_LONG} {DAY_NUM}, {YEAR_LONG}"
)

// layoutPatterns 占位符 -> Go 参考时间写法，配置里不必记住 "January 2, 2006"
var layoutPatterns = []struct {
	pattern     string
	replacement string
}{
	{"{MONTH_SHORT}", "Jan"},
	{"{MONTH_LONG}", "January"},
	{"{MONTH_NUM}", "1"},
	{"{DAY_SHORT}", "Mon"},
	{"{DAY_LONG}", "Monday"},
	{"{DAY_NUM}", "2"},
	{"{YEAR_LONG}", "2006"},
	{"{YEAR_SHORT}", "06"},
}

// Layout 把占位符格式展开成 time.Parse 可用的 layout；本身就是 Go layout 的原样返回
func Layout(format string) string {
	for _, p := range layoutPatterns {
		format = strings.ReplaceAll(format, p.pattern, p.replacement)
	}
	return format
}

// Normalize 按来源的日期格式解析页面上的日期文本，统一锚定到 UTC 当天 00:00。
// 页面只给到日期，不伪造时分秒；解析失败返回 *DateParseError，绝不回退到当前时间。
func Normalize(raw, format string) (time.Time, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return time.Time{}, &DateParseError{Raw: raw, Format: format, Err: errEmptyDate}
	}

	t, err := time.ParseInLocation(Layout(format), text, time.UTC)
	if err != nil {
		return time.Time{}, &DateParseError{Raw: raw, Format: format, Err: err}
	}

	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}
