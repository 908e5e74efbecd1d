package collector

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultSampleDelay is the measurement window between the two snapshots.
const DefaultSampleDelay = 50 * time.Millisecond

// ProcessSampler derives per-process CPU utilization from two snapshots of the
// /proc tick counters taken a short delay apart. It keeps no state between
// calls: pids are reused after exit, so nothing is carried across cycles.
type ProcessSampler struct {
	pageSize int64
	sleep    func(time.Duration)
	log      *slog.Logger
}

// NewProcessSampler creates a ProcessSampler using the OS page size for RSS
// conversion. A nil logger discards output.
func NewProcessSampler(logger *slog.Logger) *ProcessSampler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ProcessSampler{
		pageSize: int64(os.Getpagesize()),
		sleep:    time.Sleep,
		log:      logger,
	}
}

type procStat struct {
	comm     string
	ticks    int64 // utime + stime
	rssPages int64
}

// Sample blocks for delay (DefaultSampleDelay if delay <= 0) between two reads
// of the process table and returns one snapshot per process readable at the
// second read. Processes that vanish or cannot be read are dropped silently.
// The only error is failure to read the process table itself.
func (ps *ProcessSampler) Sample(delay time.Duration) ([]ProcessSnapshot, error) {
	if delay <= 0 {
		delay = DefaultSampleDelay
	}

	pids, err := listPIDs()
	if err != nil {
		return nil, err
	}
	total1, err := readTotalCPUTime()
	if err != nil {
		return nil, err
	}
	first := make(map[int]int64, len(pids))
	for _, pid := range pids {
		st, err := readProcStat(pid)
		if err != nil {
			continue
		}
		first[pid] = st.ticks
	}

	ps.sleep(delay)

	total2, err := readTotalCPUTime()
	if err != nil {
		return nil, err
	}
	totalDelta := total2 - total1
	if totalDelta <= 0 {
		totalDelta = 1
	}

	pids, err = listPIDs()
	if err != nil {
		return nil, err
	}
	snapshots := make([]ProcessSnapshot, 0, len(pids))
	var dropped int
	for _, pid := range pids {
		st, err := readProcStat(pid)
		if err != nil || st.comm == "" {
			dropped++
			continue
		}
		// Missing from the first snapshot means the process started inside
		// the window; its prior count is taken as zero.
		prev := first[pid]
		snapshots = append(snapshots, ProcessSnapshot{
			PID:        pid,
			Name:       st.comm,
			CPUPercent: 100 * float64(st.ticks-prev) / float64(totalDelta),
			MemKB:      st.rssPages * ps.pageSize / 1024,
		})
	}

	ps.log.Debug("sample",
		"visible", len(pids),
		"sampled", len(snapshots),
		"dropped", dropped,
		"total_ticks", totalDelta)

	return snapshots, nil
}

// listPIDs returns the numeric entries of the process table.
func listPIDs() ([]int, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", procRoot, err)
	}
	pids := make([]int, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// readTotalCPUTime sums every column of the aggregate "cpu" line in /proc/stat.
func readTotalCPUTime() (int64, error) {
	f, err := os.Open(filepath.Join(procRoot, "stat"))
	if err != nil {
		return 0, fmt.Errorf("read total cpu time: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "cpu" {
			continue
		}
		var total int64
		for _, field := range fields[1:] {
			v, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse cpu line: %w", err)
			}
			total += v
		}
		return total, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan stat: %w", err)
	}
	return 0, fmt.Errorf("no aggregate cpu line in %s/stat", procRoot)
}

// readProcStat parses /proc/[pid]/stat for comm, utime, stime, and rss.
func readProcStat(pid int) (procStat, error) {
	data, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(pid), "stat"))
	if err != nil {
		return procStat{}, err
	}

	// comm is in parens and may contain spaces/parens, so find last ')'
	start := bytes.IndexByte(data, '(')
	end := bytes.LastIndexByte(data, ')')
	if start < 0 || end < start || end >= len(data)-1 {
		return procStat{}, fmt.Errorf("malformed stat for pid %d", pid)
	}
	comm := string(data[start+1 : end])

	// Fields after ')' start at state (field 3): utime is field 14, stime 15,
	// rss 24.
	fields := strings.Fields(string(data[end+2:]))
	if len(fields) < 22 {
		return procStat{}, fmt.Errorf("too few fields for pid %d", pid)
	}

	utime, err := strconv.ParseInt(fields[11], 10, 64)
	if err != nil {
		return procStat{}, fmt.Errorf("parse utime for pid %d: %w", pid, err)
	}
	stime, err := strconv.ParseInt(fields[12], 10, 64)
	if err != nil {
		return procStat{}, fmt.Errorf("parse stime for pid %d: %w", pid, err)
	}
	rss, err := strconv.ParseInt(fields[21], 10, 64)
	if err != nil {
		return procStat{}, fmt.Errorf("parse rss for pid %d: %w", pid, err)
	}

	return procStat{
		comm:     comm,
		ticks:    utime + stime,
		rssPages: rss,
	}, nil
}
