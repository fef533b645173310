package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed sources.yaml
var defaultSources []byte

// 条目容器结构异常时的处理策略
const (
	OnMalformedFail = "fail"
	OnMalformedSkip = "skip"
)

// Selectors 定位一个条目各部分的 CSS 选择器，除 container 外都相对容器查找
type Selectors struct {
	Container string `yaml:"container"`
	Title     string `yaml:"title"`
	Link      string `yaml:"link,omitempty"` // 为空时取 title 元素的 href
	Date      string `yaml:"date"`
}

// SourceConfig 描述一个来源站点，进程生命周期内只读
type SourceConfig struct {
	Name       string    `yaml:"name"`
	BaseURL    string    `yaml:"base_url"`
	URL        string    `yaml:"url,omitempty"` // 列表页，默认等于 base_url
	Selectors  Selectors `yaml:"selectors"`
	DateFormat string    `yaml:"date_format"`

	// 站点差异用能力开关表达，而不是每个站点一套代码
	ResolveLinks   bool              `yaml:"resolve_links,omitempty"`
	BrowserHeaders bool              `yaml:"browser_headers,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`

	OnMalformed   string  `yaml:"on_malformed,omitempty"`
	RatePerMinute float64 `yaml:"rate_per_minute,omitempty"`
}

// ListingURL 返回实际抓取的列表页地址
func (s SourceConfig) ListingURL() string {
	if s.URL != "" {
		return s.URL
	}
	return s.BaseURL
}

// SkipMalformed 为 true 时跳过结构异常的条目，否则整个来源失败
func (s SourceConfig) SkipMalformed() bool {
	return s.OnMalformed == OnMalformedSkip
}

// LinkSelector 返回链接选择器，未配置时复用标题选择器
func (s SourceConfig) LinkSelector() string {
	if s.Selectors.Link != "" {
		return s.Selectors.Link
	}
	return s.Selectors.Title
}

func (s SourceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("source name is required")
	}
	if err := checkAbsoluteURL(s.BaseURL); err != nil {
		return fmt.Errorf("source %s: base_url: %w", s.Name, err)
	}
	if s.URL != "" {
		if err := checkAbsoluteURL(s.URL); err != nil {
			return fmt.Errorf("source %s: url: %w", s.Name, err)
		}
	}
	if s.Selectors.Container == "" || s.Selectors.Title == "" || s.Selectors.Date == "" {
		return fmt.Errorf("source %s: container, title and date selectors are required", s.Name)
	}
	if s.DateFormat == "" {
		return fmt.Errorf("source %s: date_format is required", s.Name)
	}
	switch s.OnMalformed {
	case "", OnMalformedFail, OnMalformedSkip:
	default:
		return fmt.Errorf("source %s: invalid on_malformed %q", s.Name, s.OnMalformed)
	}
	if s.RatePerMinute < 0 {
		return fmt.Errorf("source %s: rate_per_minute must not be negative", s.Name)
	}
	return nil
}

func checkAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%q is not an absolute URL", raw)
	}
	return nil
}

// LoadSources 读取来源定义；path 为空时使用内置的默认来源
func LoadSources(path string) ([]SourceConfig, error) {
	data := defaultSources
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read sources file %s: %w", path, err)
		}
		data = b
	}
	return ParseSources(data)
}

// ParseSources 解析并校验 YAML 格式的来源定义
func ParseSources(data []byte) ([]SourceConfig, error) {
	var doc struct {
		Sources []SourceConfig `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	if len(doc.Sources) == 0 {
		return nil, fmt.Errorf("no sources defined")
	}

	seen := make(map[string]struct{}, len(doc.Sources))
	for _, s := range doc.Sources {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return doc.Sources, nil
}
