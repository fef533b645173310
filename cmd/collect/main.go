package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

// 一个仅执行一次聚合的命令行入口：适合手动检查各来源的抓取结果
func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
