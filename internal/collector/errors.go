package collector

import (
	"errors"
	"fmt"
)

var errEmptyDate = errors.New("empty date text")

// FetchError 网络层失败：域名解析、连接、非 2xx、超时、读 body 出错。
// 带上来源名，方便在日志里定位是哪个站点挂了。
type FetchError struct {
	Source     string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	// 聚合层超时时拿不到地址，只有来源名
	target := "fetch"
	if e.URL != "" {
		target += " " + e.URL
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: status %d: %v", e.Source, target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, target, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ExtractionError 某个条目容器缺标题、链接或日期，属于站点结构违约而不是临时故障
type ExtractionError struct {
	Source string
	Index  int    // 容器在页面中的顺序（从 0 开始）
	Field  string // title / link / date
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s: item #%d: %s: %v", e.Source, e.Index, e.Field, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// DateParseError 日期文本与来源配置的格式不匹配
type DateParseError struct {
	Raw    string
	Format string
	Err    error
}

func (e *DateParseError) Error() string {
	return fmt.Sprintf("parse date %q with format %q: %v", e.Raw, e.Format, e.Err)
}

func (e *DateParseError) Unwrap() error {
	return e.Err
}
