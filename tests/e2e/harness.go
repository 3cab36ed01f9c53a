package e2e

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"testing"
	"time"

	"branchdown/internal/app"
	"branchdown/internal/config"
	"branchdown/pkg/client"
)

type systemUnderTest struct {
	BaseURL  string
	shutdown func()
	restart  func(t *testing.T)
}

func (s *systemUnderTest) Close() {
	if s.shutdown != nil {
		s.shutdown()
	}
}

func (s *systemUnderTest) Client(t *testing.T) *client.Client {
	t.Helper()
	c, err := client.New(s.BaseURL)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return c
}

// startSystemUnderTest runs the server in-process on a temp commit log,
// unless BRANCHDOWN_SERVER_CMD (a command to launch) or
// BRANCHDOWN_SERVER_URL (a running server) points elsewhere.
func startSystemUnderTest(t *testing.T) *systemUnderTest {
	t.Helper()

	if cmd := os.Getenv("BRANCHDOWN_SERVER_CMD"); cmd != "" {
		sut, err := startExternalServer(t, cmd)
		if err != nil {
			t.Fatalf("start external server: %v", err)
		}
		return sut
	}

	if url := os.Getenv("BRANCHDOWN_SERVER_URL"); url != "" {
		t.Logf("BRANCHDOWN_SERVER_URL set; using existing server at %s", url)
		return &systemUnderTest{BaseURL: url}
	}

	sut, err := startInProcessServer(t)
	if err != nil {
		t.Fatalf("start in-process server: %v", err)
	}
	return sut
}

func startInProcessServer(t *testing.T) (*systemUnderTest, error) {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.Backend = config.BackendCommitLog
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.CommitLog.SyncOnAppend = true
	cfg.Server.ShutdownTimeout = config.Duration(2 * time.Second)

	addr, err := freeAddr()
	if err != nil {
		return nil, fmt.Errorf("pick free addr: %w", err)
	}

	var (
		a      *app.App
		cancel context.CancelFunc
		done   chan error
	)
	launch := func() error {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		a, err = app.New(context.Background(), cfg, nil)
		if err != nil {
			l.Close()
			return err
		}
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
		srv := a
		go func() { done <- srv.Serve(ctx, l) }()
		return waitForReady("http://"+addr, 5*time.Second)
	}
	stop := func() {
		if cancel == nil {
			return
		}
		cancel()
		if err := <-done; err != nil {
			t.Logf("server stopped with error: %v", err)
		}
		if err := a.Close(); err != nil {
			t.Logf("close app: %v", err)
		}
		cancel = nil
	}

	if err := launch(); err != nil {
		return nil, err
	}
	return &systemUnderTest{
		BaseURL:  "http://" + addr,
		shutdown: stop,
		restart: func(t *testing.T) {
			t.Helper()
			stop()
			if err := launch(); err != nil {
				t.Fatalf("restart server: %v", err)
			}
		},
	}, nil
}

func startExternalServer(t *testing.T, cmdStr string) (*systemUnderTest, error) {
	t.Helper()

	dataDir, err := os.MkdirTemp("", "branchdown-e2e-data-*")
	if err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	addr, err := freeAddr()
	if err != nil {
		return nil, fmt.Errorf("pick free addr: %w", err)
	}

	launcher := func() (*exec.Cmd, error) {
		cmd := exec.Command("/bin/sh", "-c", cmdStr)
		cmd.Env = append(os.Environ(),
			fmt.Sprintf("BRANCHDOWN_HTTP_ADDR=%s", addr),
			fmt.Sprintf("BRANCHDOWN_DATA_DIR=%s", dataDir),
			"BRANCHDOWN_STORAGE=commitlog",
			"BRANCHDOWN_SYNC_ON_APPEND=true",
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("cmd start: %w", err)
		}
		if err := waitForReady("http://"+addr, 10*time.Second); err != nil {
			_ = cmd.Process.Kill()
			return nil, fmt.Errorf("wait for ready: %w", err)
		}
		return cmd, nil
	}

	cmd, err := launcher()
	if err != nil {
		return nil, err
	}

	kill := func() {
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
			_, _ = cmd.Process.Wait()
		}
	}

	return &systemUnderTest{
		BaseURL: "http://" + addr,
		restart: func(t *testing.T) {
			t.Helper()
			kill()
			newCmd, err := launcher()
			if err != nil {
				t.Fatalf("restart server: %v", err)
			}
			cmd = newCmd
		},
		shutdown: func() {
			kill()
			_ = os.RemoveAll(dataDir)
		},
	}, nil
}

func waitForReady(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("server at %s not ready after %s", baseURL, timeout)
}

func freeAddr() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer l.Close()
	return l.Addr().String(), nil
}
