package collector

import (
	"os"
	"strconv"
	"strings"
)

// Filesystem roots, overridden in tests.
var (
	procRoot  = "/proc"
	sysfsRoot = "/sys"
)

func readFloatFile(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
}
