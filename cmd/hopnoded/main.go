// Command hopnoded runs the connection-acceptance and block-exchange core
// as a standalone daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/myelnet/hopnode/node"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := node.ParseConfig(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("parsing configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	nd, err := node.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("constructing node")
	}
	defer nd.Close()

	if err := nd.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("running node")
	}
}
