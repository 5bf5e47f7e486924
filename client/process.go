package client

import (
	"path/filepath"
	"sort"
	"time"

	ps "github.com/mitchellh/go-ps"

	pnet "github.com/jinmuyano/processnet"
)

// Process is one row of a report. Rates are bytes per second over the window.
type Process struct {
	Pid           uint32  `json:"pid"`
	Name          string  `json:"name"`
	Exe           string  `json:"exe"`
	UploadBytes   uint64  `json:"upload_bytes"`
	DownloadBytes uint64  `json:"download_bytes"`
	OutRate       float64 `json:"out_rate"`
	InRate        float64 `json:"in_rate"`
}

func (p *Process) Total() uint64 {
	return p.UploadBytes + p.DownloadBytes
}

type Report struct {
	Time          time.Time     `json:"time"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalUpload   uint64        `json:"total_upload"`
	TotalDownload uint64        `json:"total_download"`
	Frames        int           `json:"frames"`
	Processes     []*Process    `json:"processes"`
}

func newProcess(item pnet.ProcessByteCount, elapsed time.Duration) *Process {
	p := &Process{
		Pid:           item.PID,
		UploadBytes:   item.UploadBytes,
		DownloadBytes: item.DownloadBytes,
	}

	// avoid x / 0
	if sec := elapsed.Seconds(); sec > 0 {
		p.OutRate = float64(item.UploadBytes) / sec
		p.InRate = float64(item.DownloadBytes) / sec
	}
	return p
}

// Lookup returns the executable of pid, "" when unknown.
type Lookup func(pid uint32) string

// FindProcess reads the executable name from the process table.
func FindProcess(pid uint32) string {
	if pid == pnet.UnknownPID {
		return ""
	}
	p, err := ps.FindProcess(int(pid))
	if err != nil || p == nil {
		return ""
	}
	return p.Executable()
}

func processName(exe string) string {
	if exe == "" {
		return "-"
	}
	return filepath.Base(exe)
}

type sortedProcesses []*Process

func (s sortedProcesses) Len() int {
	return len(s)
}

func (s sortedProcesses) Less(i, j int) bool {
	val1, val2 := s[i].Total(), s[j].Total()
	if val1 != val2 {
		return val1 > val2
	}
	return s[i].Pid < s[j].Pid
}

func (s sortedProcesses) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

// rank orders by traffic, heaviest first, and keeps at most limit entries.
func rank(procs []*Process, limit int) []*Process {
	sort.Sort(sortedProcesses(procs))
	if limit > 0 && len(procs) > limit {
		procs = procs[:limit]
	}
	return procs
}
