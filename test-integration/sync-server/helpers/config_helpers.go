package helpers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/onsi/gomega"

	"github.com/stacklok/tablesync/internal/storage/sqlite"
)

const deviceDDL = "CREATE TABLE device (id INTEGER PRIMARY KEY, ip TEXT, update_time DATETIME)"

// WriteConfigYAML creates the device database in dir and writes a config for it.
// extra is appended verbatim at the top level.
func WriteConfigYAML(dir, sourceURL, extra string) string {
	dbPath := filepath.Join(dir, "sync.db")
	gw, err := sqlite.Open(context.Background(), dbPath)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	_, err = gw.Exec(context.Background(), deviceDDL, nil)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	gw.Close()

	content := fmt.Sprintf(`database:
  driver: sqlite
  path: %s
source:
  endpoint: %s
  timeout: 5s
sync:
  pageSize: 2
%s
tables:
  - name: device
    fields:
      - name: id
        type: int
        id: true
      - name: ip
        type: string
      - name: updateTime
        type: time
        updateTime: true
`, dbPath, sourceURL, extra)

	configPath := filepath.Join(dir, "config.yaml")
	gomega.Expect(os.WriteFile(configPath, []byte(content), 0600)).To(gomega.Succeed())
	return configPath
}

// QueryIPs returns id to ip of every device row in the database next to configPath
func QueryIPs(configPath string) map[int64]string {
	gw, err := sqlite.Open(context.Background(), filepath.Join(filepath.Dir(configPath), "sync.db"))
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer gw.Close()

	rows, err := gw.Query(context.Background(), "SELECT id, ip FROM device", nil)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	ips := make(map[int64]string, len(rows))
	for _, row := range rows {
		id, ok := row["id"].(int64)
		gomega.Expect(ok).To(gomega.BeTrue(), "id should be an integer")
		ip, _ := row["ip"].(string)
		ips[id] = ip
	}
	return ips
}
