//go:build linux

package inject

import (
	"fmt"
	"strings"

	"github.com/rsturla/zsetns/pkg/environ"
)

// Script renders the shell code that applies env to an interactive
// shell and points its function search path at cachePath.
func Script(env *environ.SessionEnvironment, cachePath string) string {
	var b strings.Builder
	b.WriteString("unset HISTFILE;\n")
	export := func(name, value string) {
		fmt.Fprintf(&b, "export %s=%s;\n", name, Quote(value))
	}
	export("HOME", env.HomeDirectory)
	export("USER", env.Username)
	export("HOST", env.Hostname)
	export("HOSTNAME", env.Hostname)
	export("PATH", env.SearchPath)
	export("FPATH", cachePath)
	fmt.Fprintf(&b, "cd %s;\n", Quote(env.HomeDirectory))
	return b.String()
}

// SourceLine is the input queued on the terminal.  The leading space
// keeps it out of history for shells ignoring space-prefixed lines.
func SourceLine(scriptPath string) []byte {
	return []byte(" source " + Quote(scriptPath) + "\n")
}

// Quote returns s unchanged when the shell reads it literally, and
// single-quoted otherwise.
func Quote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuoting) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("@%+=:,./-_", r)
}
