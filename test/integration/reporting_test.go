//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/guardline/agent/internal/backend"
	"github.com/guardline/agent/internal/clock"
	"github.com/guardline/agent/internal/domain"
	"github.com/guardline/agent/internal/infra"
	"github.com/guardline/agent/internal/usecase"
)

type staticDetector struct {
	detections []domain.Detection
}

func (d *staticDetector) Detect() ([]domain.Detection, error) { return d.detections, nil }

type usageBatch struct {
	BatchID string                 `json:"batch_id"`
	Entries []domain.UsageLogEntry `json:"entries"`
}

var _ = Describe("Usage accounting and reporting", func() {
	var (
		tmpDir  string
		server  *httptest.Server
		cache   *infra.FileCacheStore
		mu      sync.Mutex
		batches []usageBatch
	)

	newMonitor := func() *usecase.AppMonitor {
		det := &staticDetector{detections: []domain.Detection{
			{PID: 55, App: "steam", WindowTitle: "Steam", IsFocused: true},
		}}
		return usecase.NewAppMonitor(det, cache,
			func() string { return time.Now().Format("2006-01-02") },
			time.Hour, zap.NewNop())
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "guardline-integration-*")
		Expect(err).NotTo(HaveOccurred())

		batches = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v1/devices/usage" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			var batch usageBatch
			Expect(json.NewDecoder(r.Body).Decode(&batch)).To(Succeed())
			mu.Lock()
			batches = append(batches, batch)
			mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"commands":[]}`))
		}))

		cache = infra.NewFileCacheStoreWithPaths(
			filepath.Join(tmpDir, "usage.json"),
			filepath.Join(tmpDir, "rules.json"),
			1000, "host-1")
	})

	AfterEach(func() {
		server.Close()
		os.RemoveAll(tmpDir)
	})

	It("accumulates, reports and survives a restart", func() {
		monitor := newMonitor()
		monitor.Tick()
		time.Sleep(1200 * time.Millisecond)
		monitor.Tick()

		used := monitor.UsageFor("steam")
		Expect(used).To(BeNumerically(">=", int64(1)))
		Expect(monitor.DeviceUsage()).To(BeNumerically(">=", used))

		client := backend.NewClient(server.URL,
			backend.Credentials{DeviceID: "dev-1", Token: "tok"}, nil, zap.NewNop())
		reporter := usecase.NewReporter(client, monitor, clock.New(zap.NewNop()),
			silentNotifier{}, nil, zap.NewNop())

		reporter.Tick(context.Background())

		mu.Lock()
		Expect(batches).To(HaveLen(1))
		Expect(batches[0].BatchID).NotTo(BeEmpty())
		Expect(batches[0].Entries).NotTo(BeEmpty())
		Expect(batches[0].Entries[0].App).To(Equal("steam"))
		Expect(batches[0].Entries[0].Duration).To(BeNumerically(">=", int64(1)))
		mu.Unlock()

		// Nothing pending: the next cycle stays silent.
		reporter.Tick(context.Background())
		mu.Lock()
		Expect(batches).To(HaveLen(1))
		mu.Unlock()

		// A fresh monitor over the same cache warm-starts with today's total.
		restarted := newMonitor()
		Expect(restarted.UsageFor("steam")).To(Equal(used))
	})

	It("refunds the batch when the backend rejects it", func() {
		monitor := newMonitor()
		monitor.Tick()
		time.Sleep(1200 * time.Millisecond)
		monitor.Tick()
		used := monitor.UsageFor("steam")

		deadClient := backend.NewClient("http://127.0.0.1:1",
			backend.Credentials{DeviceID: "dev-1", Token: "tok"}, nil, zap.NewNop())
		reporter := usecase.NewReporter(deadClient, monitor, clock.New(zap.NewNop()),
			silentNotifier{}, nil, zap.NewNop())
		reporter.Tick(context.Background())

		// The failed batch went back to pending; a working client drains it.
		client := backend.NewClient(server.URL,
			backend.Credentials{DeviceID: "dev-1", Token: "tok"}, nil, zap.NewNop())
		reporter = usecase.NewReporter(client, monitor, clock.New(zap.NewNop()),
			silentNotifier{}, nil, zap.NewNop())
		reporter.Tick(context.Background())

		mu.Lock()
		defer mu.Unlock()
		Expect(batches).To(HaveLen(1))
		Expect(batches[0].Entries[0].Duration).To(Equal(used))
	})
})
