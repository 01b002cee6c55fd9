package main

import (
	"os"

	"github.com/chronologue/chronologue/chronoservice"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := chronoservice.Run(); err != nil {
		log.Error().Err(err).Msg("chronologue-service exited with error")
		os.Exit(1)
	}
}
