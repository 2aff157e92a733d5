package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/kThendral/OptimizeHub-sub000/internal/adapter/observability"
	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

//go:embed image/Dockerfile image/runner.py
var imageContext embed.FS

// Options carries the sandbox resource caps and image tag.
type Options struct {
	Image        string
	MemoryBytes  int64
	CPUShares    int64
	ScratchBytes int64
	Timeout      time.Duration
}

// dockerAPI is the slice of the Docker client surface the executor uses.
// *client.Client satisfies it; tests substitute a fake daemon.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	Close() error
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
}

// Executor runs user-supplied fitness code in a locked-down container:
// no network, read-only rootfs, bounded tmpfs scratch, memory and CPU-share
// caps, unprivileged user, unconditional teardown.
type Executor struct {
	cli  dockerAPI
	opts Options

	// First-use image build is serialized; subsequent runs reuse the cache.
	buildMu    sync.Mutex
	imageReady bool
}

// NewExecutor connects to the Docker daemon from the environment.
func NewExecutor(opts Options) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Executor{cli: cli, opts: opts}, nil
}

// NewExecutorWithClient is used by tests to inject a fake daemon client.
func NewExecutorWithClient(cli dockerAPI, opts Options) *Executor {
	return &Executor{cli: cli, opts: opts}
}

// Ping probes the Docker daemon; used by the readiness endpoint.
func (e *Executor) Ping(ctx context.Context) error {
	_, err := e.cli.Ping(ctx)
	return err
}

// Close releases the daemon connection.
func (e *Executor) Close() error { return e.cli.Close() }

// childInput is the single JSON document written to the child's stdin.
type childInput struct {
	SourcePath string         `json:"source_path"`
	Config     domain.JobSpec `json:"config"`
}

// childOutput is the single JSON document the child writes to stdout.
type childOutput struct {
	OK      bool                   `json:"ok"`
	Result  *domain.OptimizeResult `json:"result,omitempty"`
	Kind    string                 `json:"kind,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// RunUserFitness executes source once against the algorithm named in spec.
// It re-checks validation defensively even when the caller already ran it.
func (e *Executor) RunUserFitness(ctx context.Context, source string, spec domain.JobSpec) (domain.OptimizeResult, error) {
	start := time.Now()
	res, err := e.run(ctx, source, spec)
	outcome := "ok"
	if err != nil {
		outcome = string(domain.AsJobError(err, domain.KindContainer).Kind)
	}
	observability.ObserveSandboxRun(outcome, time.Since(start))
	return res, err
}

func (e *Executor) run(ctx context.Context, source string, spec domain.JobSpec) (domain.OptimizeResult, error) {
	if err := Validate(source); err != nil {
		return domain.OptimizeResult{}, err
	}
	if err := e.ensureImage(ctx); err != nil {
		return domain.OptimizeResult{}, err
	}

	scratch, err := os.MkdirTemp("", "optimize-sandbox-*")
	if err != nil {
		return domain.OptimizeResult{}, domain.NewJobError(domain.KindContainer, fmt.Sprintf("scratch dir: %v", err))
	}
	defer func() {
		if rerr := os.RemoveAll(scratch); rerr != nil {
			slog.Warn("sandbox scratch cleanup failed", slog.String("dir", scratch), slog.Any("error", rerr))
		}
	}()
	// MkdirTemp creates 0700; the container runs as uid 65534 and must be
	// able to traverse the bind mount.
	if err := os.Chmod(scratch, 0o755); err != nil {
		return domain.OptimizeResult{}, domain.NewJobError(domain.KindContainer, fmt.Sprintf("scratch dir mode: %v", err))
	}
	if err := os.WriteFile(filepath.Join(scratch, "fitness.py"), []byte(source), 0o444); err != nil {
		return domain.OptimizeResult{}, domain.NewJobError(domain.KindContainer, fmt.Sprintf("write fitness source: %v", err))
	}

	runCtx := ctx
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	created, err := e.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           e.opts.Image,
			OpenStdin:       true,
			StdinOnce:       true,
			AttachStdin:     true,
			AttachStdout:    true,
			AttachStderr:    true,
			NetworkDisabled: true,
			User:            "65534:65534",
		},
		&container.HostConfig{
			NetworkMode:    "none",
			ReadonlyRootfs: true,
			Binds:          []string{scratch + ":/work:ro"},
			Tmpfs:          map[string]string{"/tmp": fmt.Sprintf("rw,noexec,nosuid,size=%d", e.opts.ScratchBytes)},
			CapDrop:        []string{"ALL"},
			SecurityOpt:    []string{"no-new-privileges"},
			Resources: container.Resources{
				Memory:     e.opts.MemoryBytes,
				MemorySwap: e.opts.MemoryBytes,
				CPUShares:  e.opts.CPUShares,
			},
		},
		nil, nil, "")
	if err != nil {
		return domain.OptimizeResult{}, domain.NewJobError(domain.KindContainer, fmt.Sprintf("container create: %v", err))
	}
	id := created.ID
	// Teardown happens regardless of outcome; failures are logged, never
	// allowed to mask the primary error.
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if rerr := e.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); rerr != nil {
			slog.Warn("sandbox container remove failed", slog.String("container_id", id), slog.Any("error", rerr))
		}
	}()

	attach, err := e.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return domain.OptimizeResult{}, domain.NewJobError(domain.KindContainer, fmt.Sprintf("container attach: %v", err))
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, cerr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- cerr
	}()

	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return domain.OptimizeResult{}, domain.NewJobError(domain.KindContainer, fmt.Sprintf("container start: %v", err))
	}

	input, err := json.Marshal(childInput{SourcePath: "/work/fitness.py", Config: spec})
	if err != nil {
		return domain.OptimizeResult{}, domain.NewJobError(domain.KindContainer, fmt.Sprintf("encode input: %v", err))
	}
	if _, err := attach.Conn.Write(input); err != nil {
		return domain.OptimizeResult{}, domain.NewJobError(domain.KindContainer, fmt.Sprintf("write stdin: %v", err))
	}
	if err := attach.CloseWrite(); err != nil {
		slog.Debug("sandbox stdin close", slog.Any("error", err))
	}

	waitCh, waitErrCh := e.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var status container.WaitResponse
	select {
	case <-runCtx.Done():
		killCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if kerr := e.cli.ContainerKill(killCtx, id, "KILL"); kerr != nil {
			slog.Warn("sandbox container kill failed", slog.String("container_id", id), slog.Any("error", kerr))
		}
		return domain.OptimizeResult{}, domain.NewJobError(domain.KindTimeout,
			fmt.Sprintf("sandbox exceeded wall-clock limit of %s", e.opts.Timeout))
	case werr := <-waitErrCh:
		return domain.OptimizeResult{}, domain.NewJobError(domain.KindContainer, fmt.Sprintf("container wait: %v", werr))
	case status = <-waitCh:
	}
	<-copyDone

	if status.StatusCode != 0 {
		if e.wasOOMKilled(ctx, id) {
			return domain.OptimizeResult{}, domain.NewJobError(domain.KindResource,
				fmt.Sprintf("sandbox hit the %d-byte memory limit", e.opts.MemoryBytes))
		}
		return domain.OptimizeResult{}, domain.NewJobError(domain.KindContainer,
			fmt.Sprintf("sandbox exited with status %d: %s", status.StatusCode, tail(stderr.String(), 512)))
	}

	var out childOutput
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		return domain.OptimizeResult{}, domain.NewJobError(domain.KindParse,
			fmt.Sprintf("undecodable sandbox output: %v: %s", err, tail(stdout.String(), 256)))
	}
	if !out.OK {
		return domain.OptimizeResult{}, domain.NewJobError(childKind(out.Kind), out.Message)
	}
	if out.Result == nil {
		return domain.OptimizeResult{}, domain.NewJobError(domain.KindParse, "sandbox result missing payload")
	}
	return *out.Result, nil
}

func (e *Executor) wasOOMKilled(ctx context.Context, id string) bool {
	inspect, err := e.cli.ContainerInspect(ctx, id)
	if err != nil || inspect.State == nil {
		return false
	}
	return inspect.State.OOMKilled
}

func childKind(kind string) domain.ErrorKind {
	switch kind {
	case string(domain.KindValidation):
		return domain.KindValidation
	case string(domain.KindParse):
		return domain.KindParse
	default:
		return domain.KindRuntime
	}
}

// ensureImage builds the sandbox image from the embedded context on first
// use and caches it by tag thereafter.
func (e *Executor) ensureImage(ctx context.Context) error {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()
	if e.imageReady {
		return nil
	}
	if _, _, err := e.cli.ImageInspectWithRaw(ctx, e.opts.Image); err == nil {
		e.imageReady = true
		return nil
	} else if !client.IsErrNotFound(err) {
		return domain.NewJobError(domain.KindContainer, fmt.Sprintf("image inspect: %v", err))
	}

	slog.Info("building sandbox image", slog.String("image", e.opts.Image))
	buildCtx, err := tarImageContext()
	if err != nil {
		return domain.NewJobError(domain.KindContainer, fmt.Sprintf("image context: %v", err))
	}
	resp, err := e.cli.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:       []string{e.opts.Image},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return domain.NewJobError(domain.KindContainer, fmt.Sprintf("image build: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()
	if err := drainBuildOutput(resp.Body); err != nil {
		return domain.NewJobError(domain.KindContainer, fmt.Sprintf("image build: %v", err))
	}
	e.imageReady = true
	slog.Info("sandbox image ready", slog.String("image", e.opts.Image))
	return nil
}

// tarImageContext packs the embedded Dockerfile and runner into a build
// context stream.
func tarImageContext() (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, name := range []string{"Dockerfile", "runner.py"} {
		data, err := imageContext.ReadFile("image/" + name)
		if err != nil {
			return nil, err
		}
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(data))}); err != nil {
			return nil, err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// drainBuildOutput consumes the daemon's JSON message stream and surfaces
// the first embedded error.
func drainBuildOutput(r io.Reader) error {
	dec := json.NewDecoder(r)
	for {
		var msg struct {
			Stream string `json:"stream"`
			Error  string `json:"error"`
		}
		if err := dec.Decode(&msg); err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		if msg.Error != "" {
			return fmt.Errorf("%s", msg.Error)
		}
		if s := strings.TrimSpace(msg.Stream); s != "" {
			slog.Debug("sandbox image build", slog.String("output", s))
		}
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
