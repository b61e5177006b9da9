package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"

	"github.com/gostones/cloudattach/internal/api"
	"github.com/gostones/cloudattach/internal/app"
	"github.com/gostones/cloudattach/internal/config"
	"github.com/gostones/cloudattach/internal/logger"
	"github.com/gostones/cloudattach/internal/notice"
	"github.com/gostones/cloudattach/internal/vault"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cloudattach",
	Short: "Move note attachments to cloud storage and relink them",
	Long: `cloudattach uploads the attachments embedded in markdown documents to
cloud storage, rewrites the embeds to point at the uploaded copies and then
trashes or moves the local files.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var uploadCmd = &cobra.Command{
	Use:   "upload <document>",
	Short: "Upload the attachments embedded in one document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			_, err := a.UploadDocument(ctx, args[0])
			return err
		})
	},
}

var uploadAllCmd = &cobra.Command{
	Use:   "upload-all",
	Short: "Upload every attachment stored in the monitored folders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			_, err := a.UploadFolders(ctx)
			return err
		})
	},
}

var watchDelay = app.DefaultSettleDelay

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Upload new attachments of documents as they are saved",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return a.Watch(ctx, watchDelay)
		})
	},
}

var checkBucketCmd = &cobra.Command{
	Use:   "check-bucket",
	Short: "Verify the custom bucket settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.CheckBucket(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "S3 configuration verified successfully!")
			return nil
		})
	},
}

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a default configuration file.

By default the file is created at ` + config.DefaultPath() + `.
Use --config to choose another path.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := config.Init(cfgFile, initForce)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created at: %s\n", path)
		fmt.Fprintln(cmd.OutOrStdout(), "Set account.refresh_token (or CLOUDATTACH_ACCOUNT_REFRESH_TOKEN) before uploading.")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), api.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: "+config.DefaultPath()+")")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	watchCmd.Flags().DurationVar(&watchDelay, "delay", app.DefaultSettleDelay, "wait this long after a document changes before uploading")

	rootCmd.AddCommand(initCmd, uploadCmd, uploadAllCmd, watchCmd, checkBucketCmd, versionCmd)
}

// withApp loads the configuration, sets up logging and the vault, and runs
// fn until it returns or the process is interrupted.
func withApp(cmd *cobra.Command, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	log, closer, err := logger.Init(cfg.Logging.Logger())
	if err != nil {
		return err
	}
	defer closer.Close()

	v, err := vault.Open(cfg.Vault.Root, vault.WithLogger(log))
	if err != nil {
		return err
	}
	n := notice.Quiet(notice.NewTerminal(cmd.ErrOrStderr()), cfg.Notices)
	a := app.New(cfg, v, n, cmd.OutOrStdout(), log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Debug("starting", "command", cmd.Name(), "config", cfg.File(), "storage", cfg.Storage.Kind)
	return fn(ctx, a)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Debug("command failed", "error", err)
		fmt.Fprintln(os.Stderr, app.Message(err))
		os.Exit(1)
	}
}
