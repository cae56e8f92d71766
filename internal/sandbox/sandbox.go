package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

const labelPrefix = "benchjs."

// ErrSandboxGone reports that a container definitively no longer exists.
// Samplers treat this as a normal end condition, not a fault.
var ErrSandboxGone = errors.New("sandbox gone")

// Handle identifies one running benchmark target instance. Owned by the
// trial that started it; destroyed unconditionally when the trial ends.
type Handle struct {
	Name     string
	ID       string
	Image    string
	Port     int
	HostPort int
}

// Stat is one raw resource observation as reported by the container
// runtime. Values keep the runtime's own formatting ("3.04%",
// "12.5MiB / 512MiB"); normalization happens downstream.
type Stat struct {
	CPUPerc  string
	MemUsage string
}

// Controller wraps the lifecycle of benchmark target containers: build,
// start with hard resource limits, stop/remove, logs and stats.
type Controller struct {
	docker    *client.Client
	dockerBin string
	logger    *slog.Logger
}

func NewController(logger *slog.Logger) (*Controller, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	bin, err := exec.LookPath("docker")
	if err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	return &Controller{docker: cli, dockerBin: bin, logger: logger}, nil
}

func (c *Controller) Close() error {
	return c.docker.Close()
}

// Ping verifies the Docker daemon is reachable.
func (c *Controller) Ping(ctx context.Context) error {
	_, err := c.docker.Ping(ctx)
	return err
}

// BuildImage builds one runtime image. The CLI handles build context and
// layer caching, so a rebuild of an unchanged runtime is cheap.
func (c *Controller) BuildImage(ctx context.Context, image, dockerfile, contextDir string) error {
	args := []string{"build", "-t", image}
	if dockerfile != "" {
		args = append(args, "-f", dockerfile)
	}
	if contextDir == "" {
		contextDir = "."
	}
	args = append(args, contextDir)

	cmd := exec.CommandContext(ctx, c.dockerBin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker build %s: %w\n%s", image, err, tail(out, 2000))
	}
	c.logger.Info("image built", "image", image)
	return nil
}

type StartOpts struct {
	Name       string
	Image      string
	Port       int // port the target listens on inside the container
	HostPort   int
	CPULimit   float64
	MemLimitMB int
	Env        map[string]string
	Labels     map[string]string
}

// Start creates and starts one target container with hard CPU and memory
// ceilings. The container is removed again if the start call fails.
func (c *Controller) Start(ctx context.Context, opts StartOpts) (*Handle, error) {
	labels := map[string]string{
		labelPrefix + "managed": "true",
	}
	for k, v := range opts.Labels {
		labels[k] = v
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	port, err := nat.NewPort("tcp", strconv.Itoa(opts.Port))
	if err != nil {
		return nil, fmt.Errorf("container port: %w", err)
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: int64(opts.CPULimit * 1e9),
			Memory:   int64(opts.MemLimitMB) * 1024 * 1024,
		},
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{
				HostIP:   "127.0.0.1",
				HostPort: strconv.Itoa(opts.HostPort),
			}},
		},
		// Targets reach host-published services (the datastore) here.
		ExtraHosts: []string{"host.docker.internal:host-gateway"},
	}

	containerCfg := &container.Config{
		Image:        opts.Image,
		Env:          env,
		Labels:       labels,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}

	resp, err := c.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("container create: %w", err)
	}

	if err := c.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Clean up on start failure.
		c.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("container start: %w", err)
	}

	return &Handle{
		Name:     opts.Name,
		ID:       resp.ID,
		Image:    opts.Image,
		Port:     opts.Port,
		HostPort: opts.HostPort,
	}, nil
}

// Stop force-removes a container. Safe on containers that already stopped
// or never fully started; failures are logged, never surfaced, since they
// do not invalidate collected data.
func (c *Controller) Stop(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}
	err := c.docker.ContainerRemove(ctx, h.ID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		c.logger.Warn("container remove", "name", h.Name, "error", err)
	}
}

// Logs returns the container's combined stdout/stderr.
func (c *Controller) Logs(ctx context.Context, h *Handle) (string, error) {
	reader, err := c.docker.ContainerLogs(ctx, h.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("container logs: %w", err)
	}
	defer reader.Close()

	// Demultiplex Docker's stdout/stderr stream (8-byte headers).
	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, reader); err != nil {
		return "", fmt.Errorf("container logs read: %w", err)
	}
	if stderrBuf.Len() > 0 {
		stdoutBuf.WriteString("\n--- stderr ---\n")
		stdoutBuf.Write(stderrBuf.Bytes())
	}
	return stdoutBuf.String(), nil
}

// Stats fetches one resource observation via the runtime's stat facility.
// Returns ErrSandboxGone once the container no longer exists; any other
// failure is transient and worth retrying at the next interval.
func (c *Controller) Stats(ctx context.Context, h *Handle) (*Stat, error) {
	cmd := exec.CommandContext(ctx, c.dockerBin, "stats", "--no-stream", "--format", "{{json .}}", h.ID)
	raw, err := cmd.Output()
	if err != nil {
		if gone, ierr := c.isGone(ctx, h.ID); ierr == nil && gone {
			return nil, ErrSandboxGone
		}
		return nil, fmt.Errorf("docker stats: %w", err)
	}
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return nil, fmt.Errorf("empty docker stats output for %s", h.Name)
	}
	var obj map[string]string
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return nil, fmt.Errorf("docker stats parse: %w", err)
	}
	return &Stat{CPUPerc: obj["CPUPerc"], MemUsage: obj["MemUsage"]}, nil
}

// FinalStats renders one last observation as text, best-effort.
func (c *Controller) FinalStats(ctx context.Context, h *Handle) string {
	stat, err := c.Stats(ctx, h)
	if err != nil {
		return "unavailable: " + err.Error()
	}
	return fmt.Sprintf("cpu=%s mem=%s collected_at=%s\n",
		stat.CPUPerc, stat.MemUsage, time.Now().UTC().Format(time.RFC3339))
}

// Exec runs a command inside a container and returns its stdout and exit
// code. Used for datastore readiness and seed checks.
func (c *Controller) Exec(ctx context.Context, h *Handle, cmd []string) (string, int, error) {
	execResp, err := c.docker.ContainerExecCreate(ctx, h.ID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", 0, fmt.Errorf("exec create: %w", err)
	}

	attachResp, err := c.docker.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", 0, fmt.Errorf("exec attach: %w", err)
	}
	defer attachResp.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, attachResp.Reader); err != nil {
		return "", 0, fmt.Errorf("exec read: %w", err)
	}

	inspect, err := c.docker.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return "", 0, fmt.Errorf("exec inspect: %w", err)
	}

	return stdoutBuf.String(), inspect.ExitCode, nil
}

// SweepStale removes leftover benchjs containers from a previous crashed
// run so their port bindings cannot poison the first trial.
func (c *Controller) SweepStale(ctx context.Context) {
	f := filters.NewArgs()
	f.Add("label", labelPrefix+"managed=true")

	containers, err := c.docker.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		c.logger.Warn("stale sweep: container list", "error", err)
		return
	}
	for _, ctr := range containers {
		c.logger.Info("removing stale container", "id", ctr.ID[:12], "image", ctr.Image)
		if err := c.docker.ContainerRemove(ctx, ctr.ID, container.RemoveOptions{Force: true}); err != nil {
			c.logger.Warn("stale sweep: remove", "id", ctr.ID[:12], "error", err)
		}
	}
}

func (c *Controller) isGone(ctx context.Context, containerID string) (bool, error) {
	_, err := c.docker.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
