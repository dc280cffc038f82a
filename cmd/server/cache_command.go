package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/media-transcriber/internal/cache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the audio cache",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "key <url>",
		Short: "Print the cache key and cached file for a media URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			c, err := cache.New(cfg.Storage.CacheDir, cfg.Storage.ScratchDir, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Key:   %s\n", cache.Key(args[0]))
			if path, ok := c.Lookup(args[0]); ok {
				fmt.Fprintf(out, "Audio: %s\n", path)
			} else {
				fmt.Fprintln(out, "Audio: not cached")
			}
			return nil
		},
	})
	return cacheCmd
}
