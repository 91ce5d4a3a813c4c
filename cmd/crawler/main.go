// Command crawler runs the crawl targets of a YAML crawl file and writes
// one CSV per target.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/crawlkit/pkg/fetch"
	"github.com/rs/zerolog/log"
)

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid flags")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		if errors.Is(err, fetch.ErrAuthExpired) {
			log.Error().Err(err).Msg("Session expired, refresh SESSION_COOKIE and rerun to resume")
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("Crawl failed")
	}
}
