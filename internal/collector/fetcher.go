package collector

import (
	"context"
	"time"
)

// Item 各来源抽取后的统一条目，创建后不再修改
type Item struct {
	Title       string
	Link        string
	Source      string
	PublishedAt time.Time
}

// Fetcher 抽象每一个数据源
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]Item, error)
}
