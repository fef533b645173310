package feed

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LJTian/FeedHub/internal/aggregator"
	"github.com/gorilla/feeds"
)

type Format string

const (
	FormatRSS  Format = "rss"
	FormatAtom Format = "atom"
	FormatJSON Format = "json"
)

var ErrUnknownFormat = errors.New("unknown feed format")

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatRSS, nil
	case FormatRSS, FormatAtom, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Serializer 把聚合结果渲染成订阅文档，输出只取决于输入（不读当前时间）
type Serializer struct {
	format Format
}

func NewSerializer(format Format) (*Serializer, error) {
	switch format {
	case FormatRSS, FormatAtom, FormatJSON:
		return &Serializer{format: format}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func (s *Serializer) Format() Format {
	return s.format
}

func (s *Serializer) ContentType() string {
	if s.format == FormatJSON {
		return "application/feed+json; charset=utf-8"
	}
	return "application/xml; charset=utf-8"
}

func (s *Serializer) Serialize(f *aggregator.Feed) ([]byte, error) {
	doc := toFeed(f)

	var buf bytes.Buffer
	var err error
	switch s.format {
	case FormatAtom:
		err = doc.WriteAtom(&buf)
	case FormatJSON:
		err = doc.WriteJSON(&buf)
	default:
		err = doc.WriteRss(&buf)
	}
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", s.format, err)
	}
	return buf.Bytes(), nil
}

func toFeed(f *aggregator.Feed) *feeds.Feed {
	updated := newest(f)
	doc := &feeds.Feed{
		Title:       f.Title,
		Link:        &feeds.Link{Href: f.Link},
		Description: f.Description,
		Created:     updated,
		Updated:     updated,
		Items:       make([]*feeds.Item, 0, len(f.Items)),
	}
	for _, it := range f.Items {
		doc.Items = append(doc.Items, &feeds.Item{
			Title:       it.Title,
			Link:        &feeds.Link{Href: it.Link},
			Id:          it.Link,
			IsPermaLink: "true",
			Created:     it.PublishedAt,
		})
	}
	return doc
}

// newest 条目已按时间倒序，但这里不依赖该顺序
func newest(f *aggregator.Feed) time.Time {
	var t time.Time
	for _, it := range f.Items {
		if it.PublishedAt.After(t) {
			t = it.PublishedAt
		}
	}
	return t
}
