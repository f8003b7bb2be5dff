package main

import (
	"os"

	"github.com/bearslyricattack/plugman/pkg/logger"
	_ "github.com/bearslyricattack/plugman/plugins/blog"
	_ "github.com/bearslyricattack/plugman/plugins/shop"
)

var version = "1.0.0"

func main() {
	// 初始化日志系统
	logger.Init()

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
