package metrics

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// SystemInfo holds static host facts captured once at startup. Workers
// log it so execution metrics can be read against the hardware they ran
// on.
type SystemInfo struct {
	OS               string `json:"os"`
	OSVersion        string `json:"os_version"`
	Arch             string `json:"arch"`
	Hostname         string `json:"hostname"`
	CPULogical       int    `json:"cpu_logical"`
	TotalMemoryMB    uint64 `json:"total_memory_mb"`
	GoVersion        string `json:"go_version"`
	InContainer      bool   `json:"in_container"`
	ContainerRuntime string `json:"container_runtime,omitempty"`
}

var (
	systemInfo     *SystemInfo
	systemInfoOnce sync.Once
)

// GetSystemInfo returns cached system information
func GetSystemInfo() *SystemInfo {
	systemInfoOnce.Do(func() {
		systemInfo = captureSystemInfo()
	})
	return systemInfo
}

// Fields returns the info as alternating key/value pairs for slog
func (si *SystemInfo) Fields() []interface{} {
	fields := []interface{}{
		"os", si.OS,
		"os_version", si.OSVersion,
		"arch", si.Arch,
		"hostname", si.Hostname,
		"cpu_logical", si.CPULogical,
		"total_memory_mb", si.TotalMemoryMB,
		"go_version", si.GoVersion,
		"in_container", si.InContainer,
	}
	if si.ContainerRuntime != "" {
		fields = append(fields, "container_runtime", si.ContainerRuntime)
	}
	return fields
}

func captureSystemInfo() *SystemInfo {
	info := &SystemInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CPULogical: runtime.NumCPU(),
		GoVersion:  runtime.Version(),
		OSVersion:  osVersion(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	} else {
		info.Hostname = "unknown"
	}

	info.InContainer, info.ContainerRuntime = detectContainer()
	info.TotalMemoryMB = totalMemoryMB()

	return info
}

// detectContainer checks the usual markers for Docker, Kubernetes or
// containerd. Workers deploy in containers; bare metal is the fallback.
func detectContainer() (bool, string) {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true, "docker"
	}
	if _, err := os.Stat("/var/run/secrets/kubernetes.io"); err == nil {
		return true, "kubernetes"
	}
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		switch {
		case strings.Contains(content, "docker"):
			return true, "docker"
		case strings.Contains(content, "kubepods"):
			return true, "kubernetes"
		case strings.Contains(content, "containerd"):
			return true, "containerd"
		}
	}
	return false, ""
}

// osVersion reads the distribution name on Linux. Other platforms just
// report the GOOS value; workers only ship on Linux.
func osVersion() string {
	if runtime.GOOS != "linux" {
		return runtime.GOOS
	}
	if data, err := os.ReadFile("/etc/os-release"); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "PRETTY_NAME=") {
				return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\"")
			}
		}
	}
	return "linux"
}

// totalMemoryMB reads MemTotal from /proc/meminfo, 0 when unavailable
func totalMemoryMB() uint64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb / 1024
	}
	return 0
}
