// Package podman resolves container names to the PID of their init
// process by shelling out to the podman CLI.
package podman

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotRunning is returned for containers without a live init process.
var ErrNotRunning = errors.New("container is not running")

// Container holds the subset of container metadata needed to attach.
type Container struct {
	ID    string
	Name  string
	State string // "running", "paused", "stopped", "exited", "created", "configured"
	PID   int    // Only valid when running/paused
}

// inspectResult is the subset of podman inspect JSON we care about.
type inspectResult struct {
	ID    string `json:"Id"`
	Name  string `json:"Name"`
	State struct {
		Status string `json:"Status"`
		PID    int    `json:"Pid"`
	} `json:"State"`
}

// Client runs the podman binary.
type Client struct {
	// Binary is the podman executable; empty means "podman" from PATH.
	Binary string
}

func (c *Client) binary() string {
	if c.Binary == "" {
		return "podman"
	}
	return c.Binary
}

// Inspect shells out to `podman container inspect` and returns the
// container's ID, state and PID.  Using "container inspect" (not bare
// "inspect") ensures images never match.
func (c *Client) Inspect(ctx context.Context, nameOrID string) (*Container, error) {
	out, err := exec.CommandContext(ctx, c.binary(), "container", "inspect", "--format", "json", nameOrID).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("inspecting container %s: %s", nameOrID, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("inspecting container %s: %w", nameOrID, err)
	}

	var results []inspectResult
	if err := json.Unmarshal(out, &results); err != nil {
		return nil, fmt.Errorf("parsing inspect output: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no inspect data for %s", nameOrID)
	}

	return &Container{
		ID:    results[0].ID,
		Name:  strings.TrimPrefix(results[0].Name, "/"),
		State: results[0].State.Status,
		PID:   results[0].State.PID,
	}, nil
}

// ResolvePID returns the host PID of the container's init process.
func (c *Client) ResolvePID(ctx context.Context, nameOrID string) (int, error) {
	ctr, err := c.Inspect(ctx, nameOrID)
	if err != nil {
		return 0, err
	}
	if ctr.PID <= 0 || (ctr.State != "running" && ctr.State != "paused") {
		return 0, fmt.Errorf("%s (%s): %w", nameOrID, ctr.State, ErrNotRunning)
	}
	return ctr.PID, nil
}
