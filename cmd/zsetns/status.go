//go:build linux && cgo

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rsturla/zsetns/pkg/args"
	"github.com/rsturla/zsetns/pkg/nsenter"
	"github.com/rsturla/zsetns/pkg/podman"
	"github.com/spf13/cobra"
)

var flagPodman string

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status PID|CONTAINER",
		Short: "Compare the namespaces of a process with our own",
		Long: `Print, for every namespace kind, whether PID lives in the same namespace as
zsetns.  A non-numeric argument is resolved to the PID of a running podman
container.  Inside an attached shell every kind should read "shared".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, argv []string) error {
			pid, err := resolveTarget(cmd, argv[0])
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), pid)
		},
	}
	cmd.Flags().StringVar(&flagPodman, "podman", "podman", "podman binary used to resolve container names")
	return cmd
}

func resolveTarget(cmd *cobra.Command, arg string) (int, error) {
	pid, err := args.ParsePID([]byte(arg))
	if err == nil {
		return pid, nil
	}
	c := &podman.Client{Binary: flagPodman}
	pid, perr := c.ResolvePID(ctxOrBackground(cmd), arg)
	if perr != nil {
		return 0, &statusError{status: exitInternal, err: fmt.Errorf("%s is neither a PID (%v) nor a container: %w", arg, err, perr)}
	}
	return pid, nil
}

func printStatus(w io.Writer, pid int) error {
	target, err := nsenter.SnapshotPID(pid)
	if err != nil {
		return &statusError{status: exitInternal, err: err}
	}
	self, err := nsenter.SnapshotSelf()
	if err != nil {
		return &statusError{status: exitInternal, err: err}
	}
	writeStatus(w, pid, target, self)
	return nil
}

func writeStatus(w io.Writer, pid int, target, self nsenter.Snapshot) {
	differs := target.Diff(self)
	tw := tabwriter.NewWriter(w, 8, 1, 2, ' ', 0)
	fmt.Fprintf(tw, "NAMESPACE\tPID %d\tSELF\tSTATE\n", pid)
	for _, ns := range nsenter.All.Kinds() {
		t, tok := target[ns]
		s, sok := self[ns]
		state := "shared"
		switch {
		case !tok || !sok:
			state = "unknown"
		case differs&ns != 0:
			state = "differs"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ns, idOrDash(t, tok), idOrDash(s, sok), state)
	}
	tw.Flush()
}

func idOrDash(id nsenter.NamespaceID, ok bool) string {
	if !ok {
		return "-"
	}
	return id.String()
}
