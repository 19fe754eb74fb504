package host

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"interference-bench/internal/logging"

	"github.com/prometheus/procfs"
	"github.com/sirupsen/logrus"
)

// HostConfig describes the machine an experiment runs on.
// This is initialized once at startup and stamped into result artifacts.
type HostConfig struct {
	// CPU Information
	CPUVendor    string `json:"cpu_vendor"`
	CPUModel     string `json:"cpu_model"`
	TotalCores   int    `json:"total_cores"`
	TotalThreads int    `json:"total_threads"`
	NumSockets   int    `json:"num_sockets"`

	// GPU Information
	GPUs []GPUInfo `json:"gpus,omitempty"`

	// System Information
	Hostname      string `json:"hostname"`
	OSInfo        string `json:"os_info"`
	KernelVersion string `json:"kernel_version"`

	logger *logrus.Logger
}

type GPUInfo struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Memory string `json:"memory"`
}

// GPUQueryCommand lists GPUs as "index, name, memory.total" CSV rows.
var GPUQueryCommand = []string{"nvidia-smi", "--query-gpu=index,name,memory.total", "--format=csv,noheader"}

var (
	globalHostConfig *HostConfig
	hostConfigOnce   sync.Once
)

// GetHostConfig returns the global host configuration
// It initializes the configuration on first call
func GetHostConfig() (*HostConfig, error) {
	var err error
	hostConfigOnce.Do(func() {
		globalHostConfig, err = initializeHostConfig()
	})
	return globalHostConfig, err
}

func initializeHostConfig() (*HostConfig, error) {
	logger := logging.GetLogger()
	logger.Debug("Initializing host configuration")

	config := &HostConfig{
		logger: logger,
	}

	if err := config.initSystemInfo(); err != nil {
		return nil, fmt.Errorf("failed to initialize system info: %v", err)
	}

	config.initCPUInfo()

	if err := config.initGPUInfo(); err != nil {
		logger.WithError(err).Debug("GPU query failed, continuing without GPU info")
	}

	logger.WithFields(logrus.Fields{
		"cpu_model":   config.CPUModel,
		"total_cores": config.TotalCores,
		"gpus":        len(config.GPUs),
	}).Info("Host configuration initialized")

	return config, nil
}

func (hc *HostConfig) initSystemInfo() error {
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %v", err)
	}
	hc.Hostname = hostname

	hc.OSInfo = runtime.GOOS + "/" + runtime.GOARCH

	// Get kernel version from /proc/version
	if data, err := os.ReadFile("/proc/version"); err == nil {
		version := strings.Fields(string(data))
		if len(version) >= 3 {
			hc.KernelVersion = version[2]
		}
	}

	if hc.KernelVersion == "" {
		hc.KernelVersion = "unknown"
	}

	return nil
}

func (hc *HostConfig) initCPUInfo() {
	hc.TotalCores = runtime.NumCPU()
	hc.TotalThreads = runtime.NumCPU()
	hc.CPUVendor = "unknown"
	hc.CPUModel = "unknown"
	hc.NumSockets = 1

	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return
	}
	infos, err := fs.CPUInfo()
	if err != nil || len(infos) == 0 {
		return
	}

	if infos[0].VendorID != "" {
		hc.CPUVendor = infos[0].VendorID
	}
	if infos[0].ModelName != "" {
		hc.CPUModel = infos[0].ModelName
	}

	// Number of sockets is the number of unique physical IDs
	sockets := make(map[string]struct{})
	for _, info := range infos {
		if info.PhysicalID != "" {
			sockets[info.PhysicalID] = struct{}{}
		}
	}
	if len(sockets) > 0 {
		hc.NumSockets = len(sockets)
	}
}

func (hc *HostConfig) initGPUInfo() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, GPUQueryCommand[0], GPUQueryCommand[1:]...).Output()
	if err != nil {
		return err
	}
	hc.GPUs = ParseGPUList(out)
	return nil
}

// ParseGPUList parses "index, name, memory" CSV rows. Malformed rows are skipped.
func ParseGPUList(out []byte) []GPUInfo {
	var gpus []GPUInfo
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), ",")
		if len(parts) != 3 {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(strings.TrimSpace(parts[0]), "%d", &idx); err != nil {
			continue
		}
		gpus = append(gpus, GPUInfo{
			Index:  idx,
			Name:   strings.TrimSpace(parts[1]),
			Memory: strings.TrimSpace(parts[2]),
		})
	}
	return gpus
}

// GPUNames joins GPU names for tagging.
func (hc *HostConfig) GPUNames() string {
	names := make([]string, 0, len(hc.GPUs))
	for _, g := range hc.GPUs {
		names = append(names, g.Name)
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ";")
}
