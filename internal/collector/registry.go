package collector

import (
	"fmt"

	"github.com/LJTian/FeedHub/internal/config"
)

// BuildFetchers 按配置顺序为每个来源创建适配器，顺序即聚合时的来源顺序
func BuildFetchers(sources []config.SourceConfig, opts ...Option) ([]Fetcher, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}

	fetchers := make([]Fetcher, 0, len(sources))
	for _, sc := range sources {
		src, err := NewSource(sc, opts...)
		if err != nil {
			return nil, err
		}
		fetchers = append(fetchers, src)
	}
	return fetchers, nil
}
