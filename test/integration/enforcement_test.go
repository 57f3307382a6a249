//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
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

const rulesJSON = `{
	"rules": [
		{"id": 1, "rule_type": "app_block", "app_name": "Minecraft.exe", "enabled": true},
		{"id": 2, "rule_type": "website_block", "website_url": "youtube.com", "enabled": true},
		{"id": 3, "rule_type": "time_limit", "app_name": "chrome", "time_limit_minutes": 1, "enabled": true}
	],
	"app_usage_today": {},
	"device_usage_today": 0,
	"server_timestamp": %d,
	"protection_level": "standard"
}`

var _ = Describe("Rule enforcement", func() {
	var (
		tmpDir  string
		server  *httptest.Server
		cache   *infra.FileCacheStore
		hosts   *infra.HostsManagerImpl
		procs   *recordingProcs
		session *recordingSession
		view    *staticMonitorView
	)

	newEnforcer := func(baseURL string) *usecase.RuleEnforcer {
		client := backend.NewClient(baseURL,
			backend.Credentials{DeviceID: "dev-1", Token: "tok"}, nil, zap.NewNop())
		tc := clock.New(zap.NewNop())
		return usecase.NewRuleEnforcer(usecase.EnforcerDeps{
			Backend:  client,
			Cache:    cache,
			Clock:    tc,
			Monitor:  view,
			Procs:    procs,
			Session:  session,
			Firewall: &recordingFirewall{},
			Hosts:    hosts,
			Notifier: &silentNotifier{},
			Logger:   zap.NewNop(),
		}, time.Hour, time.Hour, func() bool { return true })
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "guardline-integration-*")
		Expect(err).NotTo(HaveOccurred())

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v1/devices/rules" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, rulesJSON, time.Now().Unix())
		}))

		cache = infra.NewFileCacheStoreWithPaths(
			filepath.Join(tmpDir, "usage.json"),
			filepath.Join(tmpDir, "rules.json"),
			1000, "host-1")
		hosts = infra.NewHostsManagerWithPath(filepath.Join(tmpDir, "hosts"))
		Expect(os.WriteFile(filepath.Join(tmpDir, "hosts"), []byte("127.0.0.1 localhost\n"), 0644)).To(Succeed())

		procs = &recordingProcs{}
		session = &recordingSession{}
		view = &staticMonitorView{
			detections: []domain.Detection{
				{PID: 101, App: "minecraft"},
				{PID: 102, App: "chrome"},
			},
			usage: map[string]int64{"chrome": 30},
		}
	})

	AfterEach(func() {
		server.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("a full fetch and apply cycle", func() {
		It("kills the blocked app and rewrites the hosts file", func() {
			enf := newEnforcer(server.URL)
			enf.Tick(context.Background())

			Expect(procs.killedPIDs).To(ContainElement(int32(101)))
			Expect(procs.killedPIDs).NotTo(ContainElement(int32(102)))

			raw, err := os.ReadFile(filepath.Join(tmpDir, "hosts"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(ContainSubstring("127.0.0.1 localhost"))
			Expect(string(raw)).To(ContainSubstring("youtube.com"))
			Expect(string(raw)).To(ContainSubstring("www.youtube.com"))
		})

		It("enforces a crossed time limit", func() {
			view.usage["chrome"] = 120

			enf := newEnforcer(server.URL)
			enf.Tick(context.Background())

			Expect(procs.killedPIDs).To(ContainElement(int32(102)))
			Expect(enf.KillLog().Records()).NotTo(BeEmpty())
		})
	})

	Describe("offline enforcement from the cached snapshot", func() {
		It("keeps enforcing after the backend becomes unreachable", func() {
			// First enforcer fetches and persists the snapshot.
			newEnforcer(server.URL).Tick(context.Background())
			server.Close()

			// Fresh process, dead backend. The cache seeds the working set.
			offlineProcs := &recordingProcs{}
			procs = offlineProcs
			enf := newEnforcer("http://127.0.0.1:1")
			enf.Tick(context.Background())

			Expect(offlineProcs.killedPIDs).To(ContainElement(int32(101)))
		})
	})
})
