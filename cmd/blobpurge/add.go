package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/lucasew/blobpurge/internal/blobstore"
	"github.com/lucasew/blobpurge/internal/errutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var addCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Copies files into the blob store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := viper.GetString("blob-dir")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		store := blobstore.NewLocalStore(dir)

		for _, path := range args {
			hash, err := sha256File(path)
			if err != nil {
				return err
			}
			err = store.Put(cmd.Context(), "sha256", hash, func() (io.ReadCloser, int64, error) {
				f, err := os.Open(path)
				if err != nil {
					return nil, 0, err
				}
				info, err := f.Stat()
				if err != nil {
					errutil.Close(f, "Failed to close file", "path", path)
					return nil, 0, err
				}
				return f, info.Size(), nil
			})
			if err != nil {
				return fmt.Errorf("failed to add %s: %w", path, err)
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), blobstore.FormatID("sha256", hash)); err != nil {
				return err
			}
		}
		return nil
	},
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer errutil.Close(f, "Failed to close file", "path", path)

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func init() {
	rootCmd.AddCommand(addCmd)
}
