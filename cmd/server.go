package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/settlr/settlr/api"
	"github.com/settlr/settlr/config"
)

func initializeRouter(b *settlrInstance) *gin.Engine {
	return api.NewAPI(b.settlr).Router()
}

// startServer runs the HTTP server and shuts it down cleanly on
// SIGINT/SIGTERM so in-flight requests finish before the ledger
// connection closes.
func startServer(router *gin.Engine, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Printf("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// serverCommands returns the Cobra command responsible for starting the
// HTTP API server.
func serverCommands(b *settlrInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start settlr server",
		Run: func(cmd *cobra.Command, args []string) {
			router := initializeRouter(b)

			cfg, err := config.Fetch()
			if err != nil {
				log.Fatal(err)
			}

			if err := startServer(router, cfg.Server); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
