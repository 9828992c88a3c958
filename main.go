package main

import (
	"github.com/huangyocai/mihomo-installer/cmd"
	"github.com/huangyocai/mihomo-installer/pkg/logger"
)

var version = "dev"

func main() {
	if err := cmd.Execute(version); err != nil {
		logger.Fatalf("Error: %v", err)
	}
}
