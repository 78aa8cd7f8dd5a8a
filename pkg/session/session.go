//go:build linux

// Package session runs the stages of attaching a shell to a container:
// namespace entry, environment discovery and environment injection.
// A failing stage aborts the ones after it.  Nothing is rolled back: a
// process that joined the target's namespaces stays there.
package session

import (
	"context"
	"fmt"

	"github.com/rsturla/zsetns/pkg/args"
	"github.com/rsturla/zsetns/pkg/environ"
	"github.com/rsturla/zsetns/pkg/inject"
	"github.com/sirupsen/logrus"
)

// Stage identifies a step of an invocation.
type Stage int

const (
	StageDecode Stage = iota + 1
	StageEnter
	StageDiscover
	StageInject
)

func (s Stage) String() string {
	switch s {
	case StageDecode:
		return "decode"
	case StageEnter:
		return "enter"
	case StageDiscover:
		return "discover"
	case StageInject:
		return "inject"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Status is the exit status reported when s fails.
func (s Stage) Status() int {
	return int(s)
}

// Discoverer builds the session environment of the current namespaces.
type Discoverer interface {
	Discover(ctx context.Context) (*environ.SessionEnvironment, error)
}

// Injector applies a session environment.
type Injector interface {
	Inject(env *environ.SessionEnvironment, cache []byte) (*inject.Result, error)
}

// Session wires the stages together.
type Session struct {
	// Enter joins the namespaces of pid.  Nil means the join already
	// happened before the session started.
	Enter    func(pid int) error
	Discover Discoverer
	Inject   Injector
	Log      logrus.FieldLogger
}

// Outcome is the result of Run.
type Outcome struct {
	Env    *environ.SessionEnvironment
	Result *inject.Result
	// Migrated is true once the process lives in the target's
	// namespaces, whatever happened afterwards.
	Migrated bool
	// Stage is the failing stage, or zero on success.
	Stage Stage
	Err   error
}

// Status is the exit status for the outcome: 0 on success, the failing
// stage's status otherwise.
func (o *Outcome) Status() int {
	if o.Err == nil {
		return 0
	}
	return o.Stage.Status()
}

// Failed returns an outcome for a failure before Run, such as decoding.
func Failed(stage Stage, err error) *Outcome {
	return &Outcome{Stage: stage, Err: err}
}

// Run executes the stages for req in order.
func (s *Session) Run(ctx context.Context, req *args.MigrationRequest) *Outcome {
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("pid", req.PID)
	out := &Outcome{}

	if s.Enter != nil {
		if err := s.Enter(req.PID); err != nil {
			out.Stage, out.Err = StageEnter, err
			return out
		}
		log.Debug("joined target namespaces")
	}
	out.Migrated = true

	env, err := s.Discover.Discover(ctx)
	if err != nil {
		out.Stage, out.Err = StageDiscover, err
		warnMigrated(log, StageDiscover)
		return out
	}
	out.Env = env
	log.WithFields(logrus.Fields{
		"user":     env.Username,
		"home":     env.HomeDirectory,
		"hostname": env.Hostname,
		"path":     env.SearchPath,
	}).Debug("discovered session environment")

	res, err := s.Inject.Inject(env, req.Cache)
	if err != nil {
		out.Stage, out.Err = StageInject, err
		warnMigrated(log, StageInject)
		return out
	}
	out.Result = res

	if res.TerminalErr != nil {
		log.WithError(res.TerminalErr).Warnf("could not queue input on the terminal; run: source %s",
			inject.Quote(res.ScriptPath))
	} else if res.Queued {
		log.WithField("script", res.ScriptPath).Debug("queued init script on the terminal")
	}
	return out
}

func warnMigrated(log logrus.FieldLogger, stage Stage) {
	log.WithField("stage", stage.String()).
		Warn("process joined the target namespaces but its environment was not updated")
}
