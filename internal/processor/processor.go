package processor

import (
	"sort"

	"github.com/LJTian/FeedHub/internal/collector"
)

// SimpleProcessor 合并各来源的条目并按发布时间倒序排列
type SimpleProcessor struct{}

func NewSimpleProcessor() *SimpleProcessor {
	return &SimpleProcessor{}
}

// Process 按来源顺序拼接所有批次，不去重。
// 同一时刻的条目按来源名升序，来源名也相同时保持抓取顺序（稳定排序）。
func (p *SimpleProcessor) Process(batches [][]collector.Item) []collector.Item {
	total := 0
	for _, b := range batches {
		total += len(b)
	}

	out := make([]collector.Item, 0, total)
	for _, b := range batches {
		out = append(out, b...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.Source < b.Source
	})
	return out
}
