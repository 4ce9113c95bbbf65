// Command oubliette serves the dungeon session engine: a websocket and REST
// front end over the narrator-driven turn pipeline.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/grimoire-games/oubliette/pkg/config"
	"github.com/grimoire-games/oubliette/pkg/imagegen"
	"github.com/grimoire-games/oubliette/pkg/narrator"
	"github.com/grimoire-games/oubliette/pkg/persistence/gamestore"
	"github.com/grimoire-games/oubliette/pkg/session"
	"github.com/grimoire-games/oubliette/pkg/webgame"
)

var rootCmd = &cobra.Command{
	Use:   "oubliette",
	Short: "AI-narrated dungeon escape session engine",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		levelName, _ := cmd.Flags().GetString("log-level")
		return setupLogging(levelName)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session engine server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level override (trace, debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
}

func setupLogging(levelName string) error {
	if levelName == "" {
		levelName = os.Getenv("OUBLIETTE_LOG_LEVEL")
	}
	if levelName == "" {
		levelName = "info"
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", levelName)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
	return nil
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dsn, err := gamestore.SQLiteDSNForFile(cfg.DBPath)
	if err != nil {
		return errors.Wrap(err, "build store dsn")
	}
	store, err := gamestore.NewSQLiteStore(dsn)
	if err != nil {
		return errors.Wrap(err, "open game store")
	}

	narratorClient, err := narrator.NewOpenAIClient(cfg.OpenAIAPIKey)
	if err != nil {
		return errors.Wrap(err, "build narrator client")
	}
	orch, err := narrator.NewOrchestrator(narratorClient,
		narrator.WithPollInterval(cfg.PollInterval),
	)
	if err != nil {
		return errors.Wrap(err, "build orchestrator")
	}

	bus := gochannel.NewGoChannel(gochannel.Config{}, webgame.NewBusLogger(log.Logger))

	svc, err := session.NewService(session.ServiceConfig{
		Store:      store,
		Narrator:   narratorClient,
		Sender:     orch,
		Publisher:  bus,
		NarratorID: cfg.NarratorID,
		MaxTurns:   cfg.MaxTurns,
	})
	if err != nil {
		return errors.Wrap(err, "build session service")
	}

	hub := webgame.NewSessionHub(bus, cfg.IdleTimeout)
	router := webgame.NewRouter(svc, hub)
	srv := webgame.NewServer(cfg.Addr, router, hub)
	srv.AddCloser(store.Close)
	srv.AddCloser(bus.Close)

	if cfg.ImagesEnabled {
		gen, err := imagegen.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.ImageModel)
		if err != nil {
			return errors.Wrap(err, "build image generator")
		}
		worker := imagegen.NewWorker(gen, bus, bus)
		srv.AddWorker(worker.Run)
	} else {
		log.Info().Msg("image pipeline disabled")
	}

	return srv.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
