package keyvalstore

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

// checkPath validates that the data directory exists, is a directory, and
// sits on a filesystem with enough free space.
func checkPath(path string, minimumFreeGB int, log *logrus.Logger) error {
	if path == "" {
		return fmt.Errorf("no path provided in configuration")
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("path %s does not exist", path)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path %s is not a directory", path)
	}

	usage, err := disk.Usage(path)
	if err != nil {
		return fmt.Errorf("disk usage for %s: %w", path, err)
	}

	freeGB := usage.Free / (1024 * 1024 * 1024)
	log.WithFields(logrus.Fields{
		"path":       path,
		"total (GB)": usage.Total / (1024 * 1024 * 1024),
		"free (GB)":  freeGB,
	}).Info("Data path disk usage")

	if int(freeGB) < minimumFreeGB {
		return fmt.Errorf("not enough space available on disk: %d GB free, %d GB required", freeGB, minimumFreeGB)
	}

	return nil
}
