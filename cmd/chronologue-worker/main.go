package main

import (
	"os"

	"github.com/chronologue/chronologue/jobworker"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := jobworker.Run(); err != nil {
		log.Error().Err(err).Msg("chronologue-worker exited with error")
		os.Exit(1)
	}
}
