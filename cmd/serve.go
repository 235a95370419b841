package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/keywave/internal/app"
	"github.com/conneroisu/keywave/internal/engine"
	"github.com/conneroisu/keywave/internal/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Run the keywave daemon and control API",
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().String("bind", "", "control API bind address (host:port)")
	_ = viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(cfg, engine.NewSpeakerOutput(), log)
	if err != nil {
		return err
	}

	if err := svc.Start(ctx); err != nil {
		return err
	}

	srv := server.New(cfg.Server.Bind, svc, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down")
	case err := <-errCh:
		if err != nil {
			_ = svc.Stop(context.Background())
			return err
		}
	}

	shutdownCtx := context.Background()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, err, "control server shutdown")
	}

	return svc.Stop(shutdownCtx)
}
