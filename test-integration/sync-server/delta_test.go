package integration

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/stacklok/tablesync/internal/status"
	"github.com/stacklok/tablesync/test-integration/sync-server/helpers"
)

var _ = Describe("Delta Ingest", Label("delta"), func() {
	var (
		tempDir      string
		source       *helpers.FakeSource
		serverHelper *helpers.ServerTestHelper
		configFile   string
	)

	const (
		addDevice   = `{"table":"device","type":"ADD","data":[{"id":10,"ip":"10.0.0.10","updateTime":"2024-01-01T10:00:00Z"}]}`
		staleUpdate = `{"table":"device","type":"UPDATE","data":[{"id":10,"ip":"10.0.0.99","updateTime":"2023-01-01T10:00:00Z"}]}`
		freshUpdate = `{"table":"device","type":"UPDATE","data":[{"id":10,"ip":"10.0.1.10","updateTime":"2024-02-01T10:00:00Z"}]}`
		deleteByID  = `{"table":"device","type":"DELETE","data":[{"id":10}]}`
	)

	BeforeEach(func() {
		tempDir = createTempDir("delta-test-")
		source = helpers.NewFakeSource()
		configFile = helpers.WriteConfigYAML(tempDir, source.URL(), "")

		var err error
		serverHelper, err = helpers.NewServerTestHelper(ctx, configFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(serverHelper.StartServer()).To(Succeed())
		serverHelper.WaitForServerReady(10 * time.Second)
		serverHelper.WaitForFullSync("device", 10*time.Second)
	})

	AfterEach(func() {
		Expect(serverHelper.StopServer()).To(Succeed())
		source.Close()
		cleanupTempDir(tempDir)
	})

	It("should apply a change lifecycle in order", func() {
		result, code := serverHelper.PostDelta(addDevice)
		Expect(code).To(Equal(http.StatusAccepted))
		Expect(result.Added).To(Equal(1))

		By("rejecting a second strict ADD")
		_, code = serverHelper.PostDelta(addDevice)
		Expect(code).To(Equal(http.StatusConflict))

		By("skipping an update older than the stored row")
		result, code = serverHelper.PostDelta(staleUpdate)
		Expect(code).To(Equal(http.StatusAccepted))
		Expect(result.Skipped).To(Equal(1))
		Expect(helpers.QueryIPs(configFile)).To(HaveKeyWithValue(int64(10), "10.0.0.10"))

		By("applying a newer update")
		result, code = serverHelper.PostDelta(freshUpdate)
		Expect(code).To(Equal(http.StatusAccepted))
		Expect(result.Updated).To(Equal(1))
		Expect(helpers.QueryIPs(configFile)).To(HaveKeyWithValue(int64(10), "10.0.1.10"))

		By("deleting the row")
		result, code = serverHelper.PostDelta(deleteByID)
		Expect(code).To(Equal(http.StatusAccepted))
		Expect(result.Deleted).To(Equal(1))
		Expect(helpers.QueryIPs(configFile)).To(BeEmpty())
	})

	It("should drop malformed messages and keep serving", func() {
		_, code := serverHelper.PostDelta(`{"table":"device","type":"MERGE","data":[]}`)
		Expect(code).To(Equal(http.StatusBadRequest))

		_, code = serverHelper.PostDelta(`not json`)
		Expect(code).To(Equal(http.StatusBadRequest))

		_, code = serverHelper.PostDelta(`{"table":"unknown","type":"ADD","data":[{"id":1}]}`)
		Expect(code).To(Equal(http.StatusBadRequest))

		result, code := serverHelper.PostDelta(addDevice)
		Expect(code).To(Equal(http.StatusAccepted))
		Expect(result.Added).To(Equal(1))
	})

	It("should report table status", func() {
		_, code := serverHelper.PostDelta(addDevice)
		Expect(code).To(Equal(http.StatusAccepted))

		tables := serverHelper.GetTables()
		Expect(tables.Total).To(Equal(1))
		Expect(tables.Tables[0].Table).To(Equal("device"))
		Expect(tables.Tables[0].Phase).To(Equal(status.PhaseIdle))
		Expect(tables.Tables[0].Operation).To(Equal(status.OperationDelta))
		Expect(tables.Tables[0].Runs).To(BeNumerically(">=", 2))

		_, code = serverHelper.GetTable("unknown")
		Expect(code).To(Equal(http.StatusNotFound))
	})
})
