//go:build linux && cgo

package main

import (
	"context"
	"errors"
	"os"

	"github.com/rsturla/zsetns/pkg/args"
	"github.com/rsturla/zsetns/pkg/environ"
	"github.com/rsturla/zsetns/pkg/handoff"
	"github.com/rsturla/zsetns/pkg/inject"
	"github.com/rsturla/zsetns/pkg/nsenter"
	"github.com/rsturla/zsetns/pkg/nsenter/bootstrap"
	"github.com/rsturla/zsetns/pkg/session"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	xterm "golang.org/x/term"
)

// errNoJoin means the handoff variables arrived but the constructor
// never ran, e.g. a binary built without cgo.
var errNoJoin = errors.New("bootstrap image did not attempt the namespace join")

func attachRun(cmd *cobra.Command, argv []string) error {
	// Bootstrap mode: we were re-executed by ourselves and the
	// constructor in pkg/nsenter/bootstrap already tried to join the
	// target's namespaces before the Go runtime started.
	state, resumed, err := handoff.Unpack()
	if resumed {
		if err != nil {
			return &statusError{status: exitInternal, err: err}
		}
		return resumeRun(ctxOrBackground(cmd), state)
	}

	req, err := args.Decode(args.FromStrings(argv))
	if err != nil {
		return stageError(session.Failed(session.StageDecode, err))
	}
	ns, err := parseNamespaces()
	if err != nil {
		return stageError(session.Failed(session.StageDecode, err))
	}

	warnIfNoTerminal()

	h, err := nsenter.Open(req.PID)
	if err != nil {
		return stageError(session.Failed(session.StageEnter, err))
	}
	ns, err = dropShared(h, ns)
	if err != nil {
		return stageError(session.Failed(session.StageEnter, multierr.Append(err, h.Close())))
	}

	switch {
	case ns == 0:
		// Already inside every requested namespace.
		if err := h.Close(); err != nil {
			return &statusError{status: exitInternal, err: err}
		}
		return finish(newSession(nil).Run(ctxOrBackground(cmd), req))
	case !ns.RequiresSingleThread():
		sess := newSession(func(int) error {
			return multierr.Append(h.Enter(ns), h.Close())
		})
		return finish(sess.Run(ctxOrBackground(cmd), req))
	}

	// User and mount namespaces need a single-threaded process: hand
	// the pidfd and cache to a fresh image of ourselves.
	env, err := handoff.Pack(h, req, ns)
	if err != nil {
		return &statusError{status: exitInternal, err: err}
	}
	logrus.WithFields(logrus.Fields{"pid": req.PID, "namespaces": ns.String()}).
		Debug("re-executing to join namespaces before runtime start")
	if err := reexecBootstrap(env); err != nil {
		return &statusError{status: exitInternal, err: multierr.Append(err, handoff.Release(env))}
	}
	return nil
}

// dropShared removes from ns the kinds the target shares with us.
func dropShared(h *nsenter.ProcessHandle, ns nsenter.Namespaces) (nsenter.Namespaces, error) {
	shared, err := h.Shared(ns)
	if err != nil {
		return 0, err
	}
	if shared != 0 {
		logrus.WithFields(logrus.Fields{"pid": h.PID(), "shared": shared.String()}).
			Debug("skipping namespaces the target shares with us")
	}
	return ns &^ shared, nil
}

func resumeRun(ctx context.Context, state *handoff.State) error {
	attempted, err := bootstrap.Result(state.Request.PID)
	if err == nil && !attempted {
		err = errNoJoin
	}
	if err != nil {
		return stageError(session.Failed(session.StageEnter, err))
	}
	return finish(newSession(nil).Run(ctx, state.Request))
}

func newSession(enter func(pid int) error) *session.Session {
	in := &inject.Injector{Dir: flagTmpDir}
	if !flagNoInject {
		in.Terminal = inject.TTY{}
	}
	return &session.Session{
		Enter:    enter,
		Discover: &environ.Discoverer{Timeout: flagDiscoveryTimeout},
		Inject:   in,
		Log:      logrus.StandardLogger(),
	}
}

// finish turns the outcome into the command result and, unless
// disabled, replaces the process with the interactive shell.
func finish(out *session.Outcome) error {
	if out.Err != nil {
		return stageError(out)
	}
	if flagNoExec {
		return nil
	}
	if err := execShell(flagShell, out.Env); err != nil {
		return &statusError{status: exitInternal, err: err}
	}
	return nil
}

func stageError(out *session.Outcome) error {
	return &statusError{status: out.Status(), err: out.Err}
}

func warnIfNoTerminal() {
	if flagNoInject {
		return
	}
	if !xterm.IsTerminal(int(os.Stdin.Fd())) {
		logrus.Warn("stdin is not a terminal; the init script may not be sourced automatically")
	}
}

func ctxOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
