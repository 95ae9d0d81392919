package integration

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/tablesync/test-integration/sync-server/helpers"
)

var _ = Describe("Full Synchronization", Label("full"), func() {
	var (
		tempDir      string
		source       *helpers.FakeSource
		serverHelper *helpers.ServerTestHelper
		configFile   string
	)

	BeforeEach(func() {
		tempDir = createTempDir("full-sync-test-")
		source = helpers.NewFakeSource(
			helpers.Device{ID: 1, IP: "10.0.0.1", UpdateTime: "2024-01-01T10:00:00Z"},
			helpers.Device{ID: 2, IP: "10.0.0.2", UpdateTime: "2024-01-01T10:00:00Z"},
			helpers.Device{ID: 3, IP: "10.0.0.3", UpdateTime: "2024-01-01T10:00:00Z"},
		)
		configFile = helpers.WriteConfigYAML(tempDir, source.URL(), "")

		var err error
		serverHelper, err = helpers.NewServerTestHelper(ctx, configFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(serverHelper.StartServer()).To(Succeed())
		serverHelper.WaitForServerReady(10 * time.Second)
	})

	AfterEach(func() {
		Expect(serverHelper.StopServer()).To(Succeed())
		source.Close()
		cleanupTempDir(tempDir)
	})

	Context("On startup", func() {
		It("should copy the whole source into the destination", func() {
			st := serverHelper.WaitForFullSync("device", 10*time.Second)
			Expect(st.LastError).To(BeEmpty())

			Expect(helpers.QueryIPs(configFile)).To(Equal(map[int64]string{
				1: "10.0.0.1",
				2: "10.0.0.2",
				3: "10.0.0.3",
			}))
			// Three records at two per page
			Expect(source.Requests()).To(BeNumerically(">=", 2))
		})
	})

	Context("When the source changes", func() {
		It("should add, update and delete to match it", func() {
			serverHelper.WaitForFullSync("device", 10*time.Second)

			source.SetDevices(
				helpers.Device{ID: 1, IP: "10.9.9.1", UpdateTime: "2024-06-01T10:00:00Z"},
				helpers.Device{ID: 3, IP: "10.0.0.3", UpdateTime: "2024-01-01T10:00:00Z"},
				helpers.Device{ID: 4, IP: "10.0.0.4", UpdateTime: "2024-06-01T10:00:00Z"},
			)

			result, code := serverHelper.TriggerSync("device")
			Expect(code).To(Equal(http.StatusOK))
			Expect(result.Added).To(Equal(1))
			Expect(result.Updated).To(Equal(1))
			Expect(result.Deleted).To(Equal(1))
			Expect(result.Pages).To(Equal(2))
			Expect(result.Staged).To(Equal(3))

			Expect(helpers.QueryIPs(configFile)).To(Equal(map[int64]string{
				1: "10.9.9.1",
				3: "10.0.0.3",
				4: "10.0.0.4",
			}))
		})

		It("should keep destination rows that are newer than the source", func() {
			serverHelper.WaitForFullSync("device", 10*time.Second)

			_, code := serverHelper.PostDelta(`{"table":"device","type":"UPDATE","data":[` +
				`{"id":2,"ip":"10.5.5.2","updateTime":"2025-01-01T10:00:00Z"}]}`)
			Expect(code).To(Equal(http.StatusAccepted))

			result, code := serverHelper.TriggerSync("device")
			Expect(code).To(Equal(http.StatusOK))
			Expect(result.Updated).To(BeZero())
			Expect(helpers.QueryIPs(configFile)).To(HaveKeyWithValue(int64(2), "10.5.5.2"))
		})
	})

	Context("Manual triggers", func() {
		It("should reject unknown tables", func() {
			_, code := serverHelper.TriggerSync("unknown")
			Expect(code).To(Equal(http.StatusNotFound))
		})

		It("should reject names that are not identifiers", func() {
			_, code := serverHelper.TriggerSync("device;drop")
			Expect(code).To(Equal(http.StatusBadRequest))
		})
	})
})
