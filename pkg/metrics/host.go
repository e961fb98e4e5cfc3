package metrics

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// HostSample is a point-in-time reading of the engine process and its host.
// Fields that could not be read are zero.
type HostSample struct {
	ProcessRSS        uint64  `json:"process_rss_bytes"`
	ProcessCPUPercent float64 `json:"process_cpu_percent"`
	ProcessThreads    int32   `json:"process_threads"`
	ProcessOpenFDs    int32   `json:"process_open_fds"`
	HostMemoryTotal   uint64  `json:"host_memory_total_bytes"`
	HostMemoryUsed    float64 `json:"host_memory_used_percent"`
}

// HostCollector exports HostSample readings on every scrape
type HostCollector struct {
	proc *process.Process

	rss        *prometheus.Desc
	cpu        *prometheus.Desc
	threads    *prometheus.Desc
	fds        *prometheus.Desc
	memTotal   *prometheus.Desc
	memUsedPct *prometheus.Desc
}

// NewHostCollector creates a collector over the current process
func NewHostCollector() (*HostCollector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &HostCollector{
		proc:       proc,
		rss:        prometheus.NewDesc("federate_process_resident_bytes", "Resident memory of the engine process", nil, nil),
		cpu:        prometheus.NewDesc("federate_process_cpu_percent", "CPU usage of the engine process since start", nil, nil),
		threads:    prometheus.NewDesc("federate_process_threads", "OS threads of the engine process", nil, nil),
		fds:        prometheus.NewDesc("federate_process_open_fds", "Open file descriptors of the engine process", nil, nil),
		memTotal:   prometheus.NewDesc("federate_host_memory_total_bytes", "Total host memory", nil, nil),
		memUsedPct: prometheus.NewDesc("federate_host_memory_used_percent", "Used host memory in percent", nil, nil),
	}, nil
}

// Sample reads the current values
func (c *HostCollector) Sample() HostSample {
	var s HostSample
	if info, err := c.proc.MemoryInfo(); err == nil {
		s.ProcessRSS = info.RSS
	}
	s.ProcessCPUPercent, _ = c.proc.CPUPercent()
	s.ProcessThreads, _ = c.proc.NumThreads()
	s.ProcessOpenFDs, _ = c.proc.NumFDs()
	if vm, err := mem.VirtualMemory(); err == nil {
		s.HostMemoryTotal = vm.Total
		s.HostMemoryUsed = vm.UsedPercent
	}
	return s
}

// Describe implements prometheus.Collector
func (c *HostCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rss
	ch <- c.cpu
	ch <- c.threads
	ch <- c.fds
	ch <- c.memTotal
	ch <- c.memUsedPct
}

// Collect implements prometheus.Collector
func (c *HostCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.Sample()
	ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(s.ProcessRSS))
	ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, s.ProcessCPUPercent)
	ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(s.ProcessThreads))
	ch <- prometheus.MustNewConstMetric(c.fds, prometheus.GaugeValue, float64(s.ProcessOpenFDs))
	ch <- prometheus.MustNewConstMetric(c.memTotal, prometheus.GaugeValue, float64(s.HostMemoryTotal))
	ch <- prometheus.MustNewConstMetric(c.memUsedPct, prometheus.GaugeValue, s.HostMemoryUsed)
}
