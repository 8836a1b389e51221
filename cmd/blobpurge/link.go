package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lucasew/blobpurge/internal/backlinks"
	"github.com/lucasew/blobpurge/internal/errutil"
	"github.com/spf13/cobra"
)

const importBatch = 500

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Manages the backlink index",
}

var linkImportCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Loads backlinks from a JSON lines file",
	Long: `Loads backlinks from a file holding one JSON object per line:

  {"key": "%msg", "author": "@feed", "dest": "sha256/<hex>", "asserted": "2024-01-02T15:04:05Z"}

Use - to read from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer errutil.Close(f, "Failed to close input", "path", args[0])
			in = f
		}

		index, err := backlinks.Open(indexPath())
		if err != nil {
			return err
		}
		defer errutil.Close(index, "Failed to close backlink index")

		dec := json.NewDecoder(in)
		batch := make([]backlinks.Link, 0, importBatch)
		total := 0
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := index.Insert(cmd.Context(), batch); err != nil {
				return err
			}
			total += len(batch)
			batch = batch[:0]
			return nil
		}

		for {
			var l backlinks.Link
			err := dec.Decode(&l)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to decode link %d: %w", total+len(batch)+1, err)
			}
			if l.Key == "" || l.Dest == "" {
				return fmt.Errorf("link %d: key and dest are required", total+len(batch)+1)
			}
			batch = append(batch, l)
			if len(batch) == importBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := flush(); err != nil {
			return err
		}

		slog.Info("Imported backlinks", "count", total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(linkCmd)
	linkCmd.AddCommand(linkImportCmd)
}
