package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/criyle/go-rootbox/container"
)

func newInspectCommand(root *rootOptions) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "inspect [OPTIONS] PID",
		Short: "Print the mount point of the container held by manager PID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil || pid <= 0 {
				return fmt.Errorf("invalid manager pid %q", args[0])
			}
			return runInspect(cmd.Context(), cmd.OutOrStdout(), root, pid, verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the full container state")
	return cmd
}

func runInspect(ctx context.Context, out io.Writer, root *rootOptions, pid int, verbose bool) error {
	c := container.Attach(container.State{
		Pid:      pid,
		StateDir: root.config.StateDir,
	})
	mp, err := c.Info(ctx)
	if err != nil {
		return err
	}
	if !verbose {
		_, err = fmt.Fprintln(out, mp)
		return err
	}
	st := c.State()
	st.MountPoint = mp
	enc := yaml.NewEncoder(out)
	defer enc.Close()
	return enc.Encode(st)
}
