package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Register both Process Supervisor backends.
	_ "github.com/sandboxrouter/core/internal/supervisor/docker"
	_ "github.com/sandboxrouter/core/internal/supervisor/process"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sandboxrouter/core/internal/server"
	"github.com/sandboxrouter/core/internal/supervisor"
)

var (
	port           string
	supervisorName string
	dockerImage    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the routing core's WebSocket listener",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&port, "port", "p", envOr("PORT", "3000"), "HTTP/WebSocket listener port")
	serveCmd.Flags().StringVarP(&supervisorName, "driver", "d", "process", "Process Supervisor backend: process, docker")
	serveCmd.Flags().StringVar(&dockerImage, "image", "", "Interpreter image for the docker Supervisor backend (ignored by process)")
	RootCmd.AddCommand(serveCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runServe() {
	log.Info().Str("driver", supervisorName).Str("port", port).Msg("core: starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("core: shutdown signal received")
		cancel()
	}()

	cfg := map[string]any{}
	if dockerImage != "" {
		cfg["image"] = dockerImage
	}
	sup, err := supervisor.New(supervisorName, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("core: failed to initialize process supervisor")
	}

	ctxTimeout, cancelTimeout := context.WithTimeout(ctx, 5*time.Second)
	if err := sup.Healthy(ctxTimeout); err != nil {
		log.Fatal().Err(err).Msg("core: process supervisor health check failed")
	}
	cancelTimeout()

	s := server.New(sup)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- s.Start(":" + port)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("core: server forced to shutdown")
			os.Exit(1)
		}
	case err := <-serverErr:
		if err != nil {
			log.Fatal().Err(err).Msg("core: server startup failed")
		}
	}
}
