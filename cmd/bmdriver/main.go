package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/benchforge/bmdriver/cmd/bmdriver/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		log.WithError(err).Error("bmdriver failed")
		os.Exit(1)
	}
}
