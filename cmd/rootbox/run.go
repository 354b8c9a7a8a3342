package main

import (
	"context"
	"errors"

	"github.com/containerd/log"
	"github.com/spf13/cobra"

	"github.com/criyle/go-rootbox/container"
)

type runOptions struct {
	workDir string
	env     []string
}

func newRunCommand(root *rootOptions) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [OPTIONS] IMAGE [--] COMMAND [ARG...]",
		Short: "Create a container from IMAGE and run a command in it",
		Long: "Create a container from IMAGE and run a command in it.\n" +
			"A single COMMAND is run by /bin/sh -c, otherwise it is executed directly.\n" +
			"The container is stopped when the command exits.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := args[1:]
			if command[0] == "--" {
				command = command[1:]
			}
			if len(command) == 0 {
				return errors.New("run: no command provided")
			}
			return runRun(cmd.Context(), root, &opts, args[0], command)
		},
	}
	flags := cmd.Flags()
	flags.SetInterspersed(false)
	flags.StringVarP(&opts.workDir, "workdir", "w", "/", "working directory inside the container")
	flags.StringArrayVarP(&opts.env, "env", "e", nil, "set environment variables")
	return cmd
}

func runRun(ctx context.Context, root *rootOptions, opts *runOptions, image string, command []string) error {
	param, err := execParam(root, opts, command)
	if err != nil {
		return err
	}

	c, err := container.Create(ctx, root.config.Container(image))
	if err != nil {
		return err
	}
	defer func() {
		// stop even when interrupted
		if err := c.Stop(context.WithoutCancel(ctx)); err != nil {
			log.G(ctx).WithError(err).Warn("failed to stop container")
		}
	}()

	result, err := c.Exec(ctx, param)
	if err != nil {
		return err
	}
	log.G(ctx).WithField("result", result).Debug("command finished")
	if code := result.ExitCode(); code != 0 {
		return statusError{StatusCode: code}
	}
	return nil
}

func execParam(root *rootOptions, opts *runOptions, command []string) (container.ExecParam, error) {
	p := container.ExecParam{
		Args:    command,
		WorkDir: opts.workDir,
	}
	if len(command) == 1 {
		p.Args = []string{"/bin/sh", "-c", command[0]}
	}
	if len(opts.env) > 0 {
		p.Env = append([]string{container.PathEnv}, opts.env...)
	}
	filter, err := root.config.SeccompFilter()
	if err != nil {
		return p, err
	}
	p.Seccomp = filter
	if p.Namespaces, err = root.config.NamespaceKinds(); err != nil {
		return p, err
	}
	return p, nil
}
