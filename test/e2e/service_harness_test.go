package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"qgnotify/internal/app"
	"qgnotify/internal/clock"
	"qgnotify/internal/config"
	"qgnotify/internal/domain"
)

// newServiceFromConfig creates Service from file config path for e2e scenarios.
// Params: test handle and absolute config path.
// Returns: initialized service instance.
func newServiceFromConfig(t *testing.T, path string) *app.Service {
	t.Helper()

	source, err := config.FromCLI(path, "")
	if err != nil {
		t.Fatalf("config source: %v", err)
	}
	service, err := app.NewService(source, clock.RealClock{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

// runService starts service in background with cancellable context.
// Params: test handle and initialized service.
// Returns: cancel callback and done channel with Run result.
func runService(t *testing.T, service *app.Service) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- service.Run(ctx)
	}()
	return cancel, done
}

// waitReady waits for /readyz endpoint to return 200.
// Params: test handle and HTTP port.
// Returns: service is ready or test fails on timeout.
func waitReady(t *testing.T, port int) {
	t.Helper()
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitFor(t, 8*time.Second, func() bool {
		response, err := http.Get(baseURL + "/readyz")
		if err != nil {
			return false
		}
		defer response.Body.Close()
		return response.StatusCode == http.StatusOK
	})
}

// waitServiceStop asserts service Run exits without error after cancellation.
// Params: test handle and done channel returned by runService.
// Returns: test fails if stop timeout/error happens.
func waitServiceStop(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case runErr := <-done:
		if runErr != nil {
			t.Fatalf("service run error: %v", runErr)
		}
	case <-time.After(8 * time.Second):
		t.Fatalf("service did not stop after cancel")
	}
}

// webhookCapture records chat payloads posted by the service.
type webhookCapture struct {
	mu       sync.Mutex
	paths    []string
	payloads []domain.Payload
}

// startWebhook starts an incoming-webhook stub answering 200.
// Params: test handle.
// Returns: stub server and payload capture.
func startWebhook(t *testing.T) (*httptest.Server, *webhookCapture) {
	t.Helper()
	capture := &webhookCapture{}
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		body, _ := io.ReadAll(request.Body)
		var payload domain.Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		capture.mu.Lock()
		capture.paths = append(capture.paths, request.URL.Path)
		capture.payloads = append(capture.payloads, payload)
		capture.mu.Unlock()
		writer.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, capture
}

func (c *webhookCapture) snapshot() ([]string, []domain.Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...), append([]domain.Payload(nil), c.payloads...)
}

// waitPayloads waits until capture holds at least n payloads.
func (c *webhookCapture) waitPayloads(t *testing.T, n int) []domain.Payload {
	t.Helper()
	waitFor(t, 8*time.Second, func() bool {
		_, payloads := c.snapshot()
		return len(payloads) >= n
	})
	_, payloads := c.snapshot()
	return payloads
}
