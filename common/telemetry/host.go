package telemetry

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// HostInfo describes the machine a worker runs on. Logged once at startup so
// slow extractions can be traced to undersized hosts.
type HostInfo struct {
	Hostname         string
	OS               string
	Arch             string
	OSVersion        string
	CPULogical       int
	TotalMemoryMB    uint64
	InContainer      bool
	ContainerRuntime string
	GoVersion        string
}

// CaptureHost gathers host information. Fields that cannot be read stay zero.
func CaptureHost() HostInfo {
	info := HostInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CPULogical: runtime.NumCPU(),
		GoVersion:  runtime.Version(),
		Hostname:   "unknown",
	}
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	info.InContainer, info.ContainerRuntime = detectContainer()
	if runtime.GOOS == "linux" {
		info.OSVersion = osRelease("/etc/os-release")
		info.TotalMemoryMB = memTotalMB("/proc/meminfo")
	}
	return info
}

// Attrs returns key/value pairs for structured logging.
func (h HostInfo) Attrs() []any {
	attrs := []any{
		"hostname", h.Hostname,
		"os", h.OS,
		"arch", h.Arch,
		"cpus", h.CPULogical,
		"go", h.GoVersion,
	}
	if h.OSVersion != "" {
		attrs = append(attrs, "os_version", h.OSVersion)
	}
	if h.TotalMemoryMB > 0 {
		attrs = append(attrs, "memory_mb", h.TotalMemoryMB)
	}
	if h.InContainer {
		attrs = append(attrs, "container", h.ContainerRuntime)
	}
	return attrs
}

func detectContainer() (bool, string) {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true, "docker"
	}
	if _, err := os.Stat("/var/run/secrets/kubernetes.io"); err == nil {
		return true, "kubernetes"
	}
	// Container Apps and App Service set this.
	if os.Getenv("CONTAINER_APP_NAME") != "" {
		return true, "containerapps"
	}
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		switch {
		case strings.Contains(content, "kubepods"):
			return true, "kubernetes"
		case strings.Contains(content, "docker"):
			return true, "docker"
		case strings.Contains(content, "containerd"):
			return true, "containerd"
		}
	}
	return false, ""
}

// osRelease reads PRETTY_NAME, falling back to NAME VERSION.
func osRelease(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	var name, version string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "PRETTY_NAME":
			return value
		case "NAME":
			name = value
		case "VERSION":
			version = value
		}
	}
	return strings.TrimSpace(name + " " + version)
}

func memTotalMB(path string) uint64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[0] == "MemTotal:" {
			kb, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return 0
			}
			return kb / 1024
		}
	}
	return 0
}
