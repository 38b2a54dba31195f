package main

import (
	"os"

	"github.com/rewired-gh/crowdcast/internal/logger"
)

func main() {
	err := rootCmd.Execute()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
