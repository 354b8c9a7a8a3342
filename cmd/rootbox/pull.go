package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/criyle/go-rootbox/image"
)

func newPullCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull IMAGE",
		Short: "Download IMAGE from the mirror into the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := &image.Resolver{
				CacheDir: root.config.CacheDir,
				Mirror:   root.config.Mirror,
			}
			path, err := r.Pull(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
