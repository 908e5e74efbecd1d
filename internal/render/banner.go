package render

import (
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

const title = "procpower - Power-Aware Process Monitor"

var (
	hostInfo  = host.Info
	cpuCounts = cpu.Counts
)

// Banner returns the title line followed by a host summary when the host
// can be described.
func Banner() string {
	var parts []string
	if info, err := hostInfo(); err == nil && info != nil {
		parts = append(parts, info.Hostname)
		if info.Platform != "" {
			parts = append(parts, strings.TrimSpace(info.Platform+" "+info.PlatformVersion))
		}
		if info.KernelVersion != "" {
			parts = append(parts, "kernel "+info.KernelVersion)
		}
	}
	if n, err := cpuCounts(true); err == nil && n > 0 {
		parts = append(parts, fmt.Sprintf("%d cores", n))
	}

	if len(parts) == 0 {
		return title
	}
	return title + "\n" + strings.Join(parts, " | ")
}
