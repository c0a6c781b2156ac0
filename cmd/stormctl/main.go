package main

import (
	"os"

	"github.com/cloudstorm/backend/internal/ctl"
)

func main() {
	if err := ctl.Execute(); err != nil {
		os.Exit(1)
	}
}
