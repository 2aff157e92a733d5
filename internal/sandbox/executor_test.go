package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/require"

	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

const okSource = `def fitness(x):
    return sum(v * v for v in x)
`

// fakeConn is a non-blocking net.Conn that captures everything written to
// the container's stdin.
type fakeConn struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *fakeConn) Read(p []byte) (int, error) { return 0, io.EOF }

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *fakeConn) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *fakeConn) Close() error                       { return nil }
func (c *fakeConn) LocalAddr() net.Addr                { return &net.UnixAddr{Name: "fake"} }
func (c *fakeConn) RemoteAddr() net.Addr               { return &net.UnixAddr{Name: "fake"} }
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

// fakeDocker scripts a single container lifecycle.
type fakeDocker struct {
	mu sync.Mutex

	stdout    string
	stderr    string
	exitCode  int64
	waitDelay time.Duration
	oomKilled bool
	noImage   bool

	stdin       *fakeConn
	creates     int
	builds      int
	kills       int
	removes     int
	scratchMode os.FileMode
	sourceMode  os.FileMode
}

func (f *fakeDocker) Ping(ctx context.Context) (types.Ping, error) { return types.Ping{}, nil }
func (f *fakeDocker) Close() error                                 { return nil }

func (f *fakeDocker) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	// The scratch dir only exists for the duration of the run; record its
	// permissions here, while the daemon would actually mount it.
	if len(hostConfig.Binds) > 0 {
		host := strings.SplitN(hostConfig.Binds[0], ":", 2)[0]
		if info, err := os.Stat(host); err == nil {
			f.scratchMode = info.Mode().Perm()
		}
		if info, err := os.Stat(host + "/fitness.py"); err == nil {
			f.sourceMode = info.Mode().Perm()
		}
	}
	return container.CreateResponse{ID: "sandbox-test"}, nil
}

func (f *fakeDocker) ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error) {
	var mux bytes.Buffer
	if f.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&mux, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&mux, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stdin = &fakeConn{}
	return types.HijackedResponse{Conn: f.stdin, Reader: bufio.NewReader(&mux)}, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return nil
}

func (f *fakeDocker) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		if f.waitDelay > 0 {
			time.Sleep(f.waitDelay)
		}
		statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	}()
	return statusCh, errCh
}

func (f *fakeDocker) ContainerKill(ctx context.Context, containerID, signal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills++
	return nil
}

func (f *fakeDocker) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	return types.ContainerJSON{
		ContainerJSONBase: &container.ContainerJSONBase{
			State: &container.State{OOMKilled: f.oomKilled},
		},
	}, nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes++
	return nil
}

func (f *fakeDocker) ImageInspectWithRaw(ctx context.Context, imageID string) (types.ImageInspect, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noImage && f.builds == 0 {
		return types.ImageInspect{}, nil, fmt.Errorf("no such image %q: %w", imageID, cerrdefs.ErrNotFound)
	}
	return types.ImageInspect{}, nil, nil
}

func (f *fakeDocker) ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	_, _ = io.Copy(io.Discard, buildContext)
	return types.ImageBuildResponse{
		Body: io.NopCloser(strings.NewReader(`{"stream":"done"}` + "\n")),
	}, nil
}

func (f *fakeDocker) counts() (creates, builds, kills, removes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.builds, f.kills, f.removes
}

func testSpec() domain.JobSpec {
	return domain.JobSpec{
		JobID:     "job-1",
		Algorithm: "particle_swarm",
		Problem: domain.ProblemSpec{
			Dimensions:      3,
			Bounds:          []domain.Bound{{Lo: -5, Hi: 5}, {Lo: -5, Hi: 5}, {Lo: -5, Hi: 5}},
			Objective:       domain.ObjectiveMinimize,
			FitnessFunction: domain.FitnessUserSupplied,
		},
		Params: map[string]float64{"swarm_size": 10, "max_iterations": 20},
	}
}

func testOptions() Options {
	return Options{
		Image:        "optimizehub-sandbox:test",
		MemoryBytes:  64 << 20,
		CPUShares:    512,
		ScratchBytes: 16 << 20,
		Timeout:      5 * time.Second,
	}
}

func requireKind(t *testing.T, err error, kind domain.ErrorKind) *domain.JobError {
	t.Helper()
	require.Error(t, err)
	var jerr *domain.JobError
	require.ErrorAs(t, err, &jerr)
	require.Equal(t, kind, jerr.Kind)
	return jerr
}

func TestExecutor_HappyPath(t *testing.T) {
	payload, err := json.Marshal(childOutput{
		OK: true,
		Result: &domain.OptimizeResult{
			Algorithm:           "particle_swarm",
			BestSolution:        []float64{0.01, -0.02, 0.003},
			BestFitness:         0.0005,
			ConvergenceCurve:    []float64{1.2, 0.4, 0.0005},
			IterationsCompleted: 20,
		},
	})
	require.NoError(t, err)

	daemon := &fakeDocker{stdout: string(payload)}
	exec := NewExecutorWithClient(daemon, testOptions())

	res, err := exec.RunUserFitness(context.Background(), okSource, testSpec())
	require.NoError(t, err)
	require.Equal(t, "particle_swarm", res.Algorithm)
	require.InDelta(t, 0.0005, res.BestFitness, 1e-9)
	require.Len(t, res.BestSolution, 3)

	creates, _, _, removes := daemon.counts()
	require.Equal(t, 1, creates)
	require.Equal(t, 1, removes, "container must be removed after the run")

	var in childInput
	require.NoError(t, json.Unmarshal([]byte(daemon.stdin.String()), &in))
	require.Equal(t, "/work/fitness.py", in.SourcePath)
	require.Equal(t, "particle_swarm", in.Config.Algorithm)
}

func TestExecutor_ScratchReadableByContainerUser(t *testing.T) {
	payload, err := json.Marshal(childOutput{OK: true, Result: &domain.OptimizeResult{Algorithm: "particle_swarm"}})
	require.NoError(t, err)
	daemon := &fakeDocker{stdout: string(payload)}
	exec := NewExecutorWithClient(daemon, testOptions())

	_, err = exec.RunUserFitness(context.Background(), okSource, testSpec())
	require.NoError(t, err)

	// uid 65534 inside the container must traverse the mount and read the
	// source, so world execute and read bits are required.
	require.Equal(t, os.FileMode(0o755), daemon.scratchMode)
	require.Equal(t, os.FileMode(0o444), daemon.sourceMode)
}

func TestExecutor_ChildErrorKindsPassThrough(t *testing.T) {
	cases := []struct {
		child string
		want  domain.ErrorKind
	}{
		{string(domain.KindValidation), domain.KindValidation},
		{string(domain.KindParse), domain.KindParse},
		{"runtime", domain.KindRuntime},
		{"something-new", domain.KindRuntime},
	}
	for _, tc := range cases {
		t.Run(tc.child, func(t *testing.T) {
			payload, err := json.Marshal(childOutput{OK: false, Kind: tc.child, Message: "boom"})
			require.NoError(t, err)
			daemon := &fakeDocker{stdout: string(payload)}
			exec := NewExecutorWithClient(daemon, testOptions())

			_, err = exec.RunUserFitness(context.Background(), okSource, testSpec())
			jerr := requireKind(t, err, tc.want)
			require.Equal(t, "boom", jerr.Message)
		})
	}
}

func TestExecutor_UndecodableOutputIsParseError(t *testing.T) {
	daemon := &fakeDocker{stdout: "Traceback (most recent call last): oops"}
	exec := NewExecutorWithClient(daemon, testOptions())

	_, err := exec.RunUserFitness(context.Background(), okSource, testSpec())
	requireKind(t, err, domain.KindParse)
}

func TestExecutor_OOMKillIsResourceError(t *testing.T) {
	daemon := &fakeDocker{exitCode: 137, oomKilled: true}
	exec := NewExecutorWithClient(daemon, testOptions())

	_, err := exec.RunUserFitness(context.Background(), okSource, testSpec())
	jerr := requireKind(t, err, domain.KindResource)
	require.Contains(t, jerr.Message, "memory limit")
}

func TestExecutor_NonzeroExitCarriesStderrTail(t *testing.T) {
	daemon := &fakeDocker{exitCode: 1, stderr: "ZeroDivisionError: division by zero"}
	exec := NewExecutorWithClient(daemon, testOptions())

	_, err := exec.RunUserFitness(context.Background(), okSource, testSpec())
	jerr := requireKind(t, err, domain.KindContainer)
	require.Contains(t, jerr.Message, "ZeroDivisionError")
}

func TestExecutor_WallClockLimitKillsContainer(t *testing.T) {
	opts := testOptions()
	opts.Timeout = 30 * time.Millisecond
	daemon := &fakeDocker{waitDelay: time.Second}
	exec := NewExecutorWithClient(daemon, opts)

	_, err := exec.RunUserFitness(context.Background(), okSource, testSpec())
	requireKind(t, err, domain.KindTimeout)

	_, _, kills, removes := daemon.counts()
	require.Equal(t, 1, kills)
	require.Equal(t, 1, removes)
}

func TestExecutor_StaticScreenSkipsDaemon(t *testing.T) {
	daemon := &fakeDocker{}
	exec := NewExecutorWithClient(daemon, testOptions())

	_, err := exec.RunUserFitness(context.Background(), "import os\n\ndef fitness(x):\n    return 0\n", testSpec())
	requireKind(t, err, domain.KindValidation)

	creates, builds, _, _ := daemon.counts()
	require.Zero(t, creates, "rejected source must never reach the daemon")
	require.Zero(t, builds)
}

func TestExecutor_BuildsMissingImageOnce(t *testing.T) {
	payload, err := json.Marshal(childOutput{OK: true, Result: &domain.OptimizeResult{Algorithm: "particle_swarm"}})
	require.NoError(t, err)
	daemon := &fakeDocker{stdout: string(payload), noImage: true}
	exec := NewExecutorWithClient(daemon, testOptions())

	for i := 0; i < 2; i++ {
		_, err := exec.RunUserFitness(context.Background(), okSource, testSpec())
		require.NoError(t, err)
	}
	_, builds, _, _ := daemon.counts()
	require.Equal(t, 1, builds, "image build result is cached by tag")
}

func TestExecutor_PingDelegates(t *testing.T) {
	exec := NewExecutorWithClient(&fakeDocker{}, testOptions())
	require.NoError(t, exec.Ping(context.Background()))
}
