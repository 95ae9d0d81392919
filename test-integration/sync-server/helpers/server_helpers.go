package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/onsi/gomega"

	v1 "github.com/stacklok/tablesync/internal/api/v1"
	syncapp "github.com/stacklok/tablesync/internal/app"
	"github.com/stacklok/tablesync/internal/config"
	"github.com/stacklok/tablesync/internal/status"
	pkgsync "github.com/stacklok/tablesync/internal/sync"
)

// ServerTestHelper manages the sync server lifecycle for testing
type ServerTestHelper struct {
	ctx        context.Context
	configPath string
	baseURL    string
	address    string
	httpClient *http.Client
	app        *syncapp.SyncApp
}

// NewServerTestHelper creates a helper listening on a free local port
func NewServerTestHelper(ctx context.Context, configPath string) (*ServerTestHelper, error) {
	port, err := freePort()
	if err != nil {
		return nil, err
	}
	address := fmt.Sprintf("127.0.0.1:%d", port)

	return &ServerTestHelper{
		ctx:        ctx,
		configPath: configPath,
		address:    address,
		baseURL:    "http://" + address,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find a free port: %w", err)
	}
	defer func() {
		_ = l.Close()
	}()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// StartServer loads the configuration and starts the server in the background
func (s *ServerTestHelper) StartServer() error {
	cfg, err := config.LoadConfig(config.WithConfigPath(s.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app, err := syncapp.NewSyncApp(s.ctx,
		syncapp.WithConfig(cfg),
		syncapp.WithAddress(s.address),
	)
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}
	s.app = app

	go func() {
		if err := app.Start(); err != nil {
			// The test fails when it tries to connect
			fmt.Fprintf(os.Stderr, "Server start failed: %v\n", err)
		}
	}()

	return nil
}

// StopServer gracefully stops the server
func (s *ServerTestHelper) StopServer() error {
	if s.app != nil {
		return s.app.Stop(5 * time.Second)
	}
	return nil
}

// WaitForServerReady waits until /readiness answers 200
func (s *ServerTestHelper) WaitForServerReady(timeout time.Duration) {
	gomega.Eventually(func() error {
		resp, err := s.httpClient.Get(s.baseURL + "/readiness")
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return nil
	}, timeout, 100*time.Millisecond).Should(gomega.Succeed(), "Server should be ready")
}

// WaitForFullSync waits until the table has completed a full sync
func (s *ServerTestHelper) WaitForFullSync(table string, timeout time.Duration) status.TableStatus {
	var st status.TableStatus
	gomega.Eventually(func() error {
		var code int
		st, code = s.GetTable(table)
		if code != http.StatusOK {
			return fmt.Errorf("status returned %d", code)
		}
		if st.LastFullSync == nil {
			return fmt.Errorf("table %s has not completed a full sync", table)
		}
		return nil
	}, timeout, 100*time.Millisecond).Should(gomega.Succeed())
	return st
}

// PostDelta sends a delta message to POST /v1/deltas
func (s *ServerTestHelper) PostDelta(body string) (pkgsync.Result, int) {
	resp, err := s.httpClient.Post(s.baseURL+"/v1/deltas", "application/json", strings.NewReader(body))
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer func() {
		_ = resp.Body.Close()
	}()

	var result pkgsync.Result
	if resp.StatusCode == http.StatusAccepted {
		gomega.Expect(json.NewDecoder(resp.Body).Decode(&result)).To(gomega.Succeed())
	}
	return result, resp.StatusCode
}

// TriggerSync calls POST /v1/tables/{table}/sync
func (s *ServerTestHelper) TriggerSync(table string) (pkgsync.Result, int) {
	resp, err := s.httpClient.Post(fmt.Sprintf("%s/v1/tables/%s/sync", s.baseURL, table), "application/json", nil)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer func() {
		_ = resp.Body.Close()
	}()

	var result pkgsync.Result
	if resp.StatusCode == http.StatusOK {
		gomega.Expect(json.NewDecoder(resp.Body).Decode(&result)).To(gomega.Succeed())
	}
	return result, resp.StatusCode
}

// GetTables calls GET /v1/tables
func (s *ServerTestHelper) GetTables() v1.TablesResponse {
	resp, err := s.httpClient.Get(s.baseURL + "/v1/tables")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer func() {
		_ = resp.Body.Close()
	}()
	gomega.Expect(resp.StatusCode).To(gomega.Equal(http.StatusOK))

	var tables v1.TablesResponse
	gomega.Expect(json.NewDecoder(resp.Body).Decode(&tables)).To(gomega.Succeed())
	return tables
}

// GetTable calls GET /v1/tables/{table}
func (s *ServerTestHelper) GetTable(table string) (status.TableStatus, int) {
	resp, err := s.httpClient.Get(fmt.Sprintf("%s/v1/tables/%s", s.baseURL, table))
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer func() {
		_ = resp.Body.Close()
	}()

	var st status.TableStatus
	if resp.StatusCode == http.StatusOK {
		gomega.Expect(json.NewDecoder(resp.Body).Decode(&st)).To(gomega.Succeed())
	}
	return st, resp.StatusCode
}
