//go:build linux && cgo

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rsturla/zsetns/pkg/nsenter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	flagNamespaces       string
	flagShell            string
	flagTmpDir           string
	flagNoExec           bool
	flagNoInject         bool
	flagDiscoveryTimeout time.Duration
	flagLogLevel         string
)

// exitInternal is returned for failures outside the session stages.
const exitInternal = 125

// statusError carries the exit status for err.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var se *statusError
		if errors.As(err, &se) {
			os.Exit(se.status)
		}
		os.Exit(exitInternal)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "zsetns [options] PID CACHE_FILE",
		Short: "Move an interactive shell into a running container",
		Long: `Move an interactive shell into the namespaces of a running container process.

zsetns joins the cgroup, ipc, net, mnt, pid, user and uts namespaces of PID,
looks up the user, hostname and login PATH as seen from inside, writes
CACHE_FILE (a compiled completion dump) and an init script to the
container's temporary directory, queues "source <script>" on the terminal
and finally replaces itself with an interactive shell.

Run it with "exec" so the container shell takes over the terminal session.
A failure after the namespaces were joined leaves the process inside the
container with its old environment.`,
		Args:                  cobra.ArbitraryArgs,
		RunE:                  attachRun,
		PersistentPreRunE:     setup,
		SilenceUsage:          true,
		SilenceErrors:         true,
		DisableFlagsInUseLine: true,
		Example: `  exec zsetns 4242 ~/.zcompdump.zwc
  exec zsetns --shell bash 4242 ~/.zcompdump.zwc
  zsetns --namespaces net,uts --no-exec 4242 ~/.zcompdump.zwc
  zsetns status 4242`,
	}

	flags := rootCmd.Flags()
	flags.SetInterspersed(false)

	flags.StringVar(&flagNamespaces, "namespaces", "all", "Namespaces to join: all, or a list of cgroup,ipc,net,mnt,pid,user,uts")
	flags.StringVar(&flagShell, "shell", "zsh", "Interactive shell to run inside the container")
	flags.StringVar(&flagTmpDir, "tmpdir", "", "Directory for the cache copy and init script (default: container temp dir)")
	flags.BoolVar(&flagNoExec, "no-exec", false, "Exit after injecting instead of starting the shell")
	flags.BoolVar(&flagNoInject, "no-inject", false, "Write the init script but do not queue it on the terminal")
	flags.DurationVar(&flagDiscoveryTimeout, "discovery-timeout", 0, "Limit for the login shell that computes PATH (0: no limit)")

	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warning", "Log level: debug, info, warning, error")

	rootCmd.AddCommand(newStatusCmd())
	return rootCmd
}

// setup applies ZSETNS_* environment defaults and configures logging.
func setup(cmd *cobra.Command, _ []string) error {
	if err := applyEnv(cmd.Flags()); err != nil {
		return &statusError{status: exitInternal, err: err}
	}
	level, err := logrus.ParseLevel(flagLogLevel)
	if err != nil {
		return &statusError{status: exitInternal, err: err}
	}
	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return nil
}

func parseNamespaces() (nsenter.Namespaces, error) {
	return nsenter.ParseNamespaces(flagNamespaces)
}
