package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gostones/cloudattach/internal/config"
	"github.com/gostones/cloudattach/internal/logger"
	"github.com/gostones/cloudattach/internal/server"
	"github.com/gostones/cloudattach/internal/transfer"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "cloudattach-server",
	Short:         "Reference control plane for resumable attachment uploads",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/cloudattach/server.yaml)")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadServer(cfgFile)
	if err != nil {
		return err
	}
	log, closer, err := logger.Init(cfg.Logging.Logger())
	if err != nil {
		return err
	}
	defer closer.Close()

	svc, err := transfer.NewS3Client(transfer.BucketConfig{
		Endpoint:       cfg.S3.Endpoint,
		Region:         cfg.S3.Region,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		Bucket:         cfg.S3.Bucket,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		return err
	}

	store, err := server.OpenStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := server.New(server.Options{
		PartSize:     int64(cfg.PartSize),
		StorageLimit: int64(cfg.StorageLimit),
		PerFileLimit: int64(cfg.PerFileLimit),
		Account: server.Account{
			AccessToken:  cfg.Account.AccessToken,
			RefreshToken: cfg.Account.RefreshToken,
			UserType:     cfg.Account.UserType,
			FolderName:   cfg.Account.FolderName,
			FolderID:     cfg.Account.FolderID,
		},
	}, store, server.NewS3Backend(svc, cfg.S3.Bucket), log)
	if err != nil {
		return err
	}

	hs := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Listen, "bucket", cfg.S3.Bucket, "data_dir", cfg.DataDir)
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdown); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
