package hardware

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"equihasher/pkg/hashing/core"
)

// host probes, replaced in tests
var (
	cpuCounts     = cpu.Counts
	cpuInfo       = cpu.Info
	virtualMemory = mem.VirtualMemory
)

// DetectHost describes the host CPU and memory as a compute device.
// Probe failures degrade to what the Go runtime knows.
func DetectHost() *core.DeviceInfo {
	info := &core.DeviceInfo{
		Name:         runtime.GOARCH + " cpu",
		ComputeUnits: runtime.NumCPU(),
		Metadata: map[string]string{
			"os":          runtime.GOOS,
			"arch":        runtime.GOARCH,
			"go":          runtime.Version(),
			"detected_by": "gopsutil",
		},
	}

	if n, err := cpuCounts(true); err == nil && n > 0 {
		info.ComputeUnits = n
	}
	if n, err := cpuCounts(false); err == nil && n > 0 {
		info.PhysicalCores = n
	}
	if stats, err := cpuInfo(); err == nil && len(stats) > 0 {
		if model := strings.TrimSpace(stats[0].ModelName); model != "" {
			info.Name = model
		}
		if stats[0].VendorID != "" {
			info.Metadata["vendor"] = stats[0].VendorID
		}
	}
	if vm, err := virtualMemory(); err == nil {
		info.TotalMemory = vm.Total
		info.AvailableMemory = vm.Available
	} else {
		info.Metadata["memory_error"] = err.Error()
	}

	return info
}

// AvailableMemory returns the bytes the host can hand out right now.
func AvailableMemory() (uint64, error) {
	vm, err := virtualMemory()
	if err != nil {
		return 0, fmt.Errorf("probe memory: %w", err)
	}
	return vm.Available, nil
}

// DeviceDetector probes a set of backends and records which can run here
type DeviceDetector struct {
	detectedMethods map[string]bool
	capabilities    map[string]*core.Capabilities
	devices         map[string][]*core.DeviceInfo
}

// NewDeviceDetector creates a new hardware detector
func NewDeviceDetector() *DeviceDetector {
	return &DeviceDetector{
		detectedMethods: make(map[string]bool),
		capabilities:    make(map[string]*core.Capabilities),
		devices:         make(map[string][]*core.DeviceInfo),
	}
}

// DetectAvailableMethods asks every backend for its availability and devices
func (d *DeviceDetector) DetectAvailableMethods(backends ...core.Backend) map[string]bool {
	for _, b := range backends {
		name := b.Name()
		caps := b.GetCapabilities()

		available := b.IsAvailable()
		if available {
			devs, err := b.Devices()
			if err != nil || len(devs) == 0 {
				available = false
				reason := "no devices"
				if err != nil {
					reason = err.Error()
				}
				copied := *caps
				copied.Reason = reason
				caps = &copied
			} else {
				d.devices[name] = devs
			}
		}

		d.detectedMethods[name] = available
		d.capabilities[name] = caps
	}

	return d.detectedMethods
}

// GetCapabilities returns capabilities for a specific method
func (d *DeviceDetector) GetCapabilities(method string) *core.Capabilities {
	if caps, exists := d.capabilities[method]; exists {
		return caps
	}
	return &core.Capabilities{
		Name:   method,
		Reason: "Unknown method",
	}
}

// GetAllCapabilities returns all detected capabilities
func (d *DeviceDetector) GetAllCapabilities() map[string]*core.Capabilities {
	result := make(map[string]*core.Capabilities)
	for method, caps := range d.capabilities {
		result[method] = caps
	}
	return result
}

// GetDevices returns the devices found for a method
func (d *DeviceDetector) GetDevices(method string) []*core.DeviceInfo {
	return d.devices[method]
}

// GetDetectionSummary returns a human-readable summary
func (d *DeviceDetector) GetDetectionSummary() string {
	var builder strings.Builder

	builder.WriteString("Device Detection Summary:\n")
	builder.WriteString("========================\n\n")

	methods := make([]string, 0, len(d.detectedMethods))
	for method := range d.detectedMethods {
		methods = append(methods, method)
	}
	sort.Strings(methods)

	availableCount := 0
	for _, method := range methods {
		available := d.detectedMethods[method]
		status := "UNAVAILABLE"
		if available {
			status = "AVAILABLE"
			availableCount++
		}

		caps := d.capabilities[method]
		builder.WriteString(fmt.Sprintf("%-12s platform %d  %s\n", method, caps.PlatformID, status))

		for _, dev := range d.devices[method] {
			builder.WriteString(fmt.Sprintf("             device %d: %s (%d units, %d MiB free)\n",
				dev.ID, dev.Name, dev.ComputeUnits, dev.AvailableMemory>>20))
		}

		if !available && caps.Reason != "" {
			builder.WriteString(fmt.Sprintf("             Reason: %s\n", caps.Reason))
		}
	}

	builder.WriteString(fmt.Sprintf("\nTotal Methods: %d\n", len(d.detectedMethods)))
	builder.WriteString(fmt.Sprintf("Available: %d\n", availableCount))

	return builder.String()
}
