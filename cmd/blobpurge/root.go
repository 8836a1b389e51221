package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lucasew/blobpurge/internal/errutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "blobpurge",
	Short: "Keeps a blob directory under its storage limit",
	Long: `blobpurge deletes the most disposable blobs of a content addressed store
until it fits under a storage limit, sparing blobs referenced by the local
identity, then waits for new blobs before purging again.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if viper.GetBool("verbose") {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if _, printErr := fmt.Fprintln(os.Stderr, err); printErr != nil {
			errutil.ReportError(printErr, "Failed to print error to stderr")
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug messages")
	rootCmd.PersistentFlags().String("blob-dir", "./blobs", "Directory holding the blobs")
	rootCmd.PersistentFlags().String("index", "", "Backlink index database (default {blob-dir}/backlinks.db)")

	mustBindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	mustBindPFlag("blob-dir", rootCmd.PersistentFlags().Lookup("blob-dir"))
	mustBindPFlag("index", rootCmd.PersistentFlags().Lookup("index"))
}

func initConfig() {
	viper.SetEnvPrefix("BLOBPURGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q: %v", key, err))
	}
}

func indexPath() string {
	if p := viper.GetString("index"); p != "" {
		return p
	}
	return filepath.Join(viper.GetString("blob-dir"), "backlinks.db")
}
