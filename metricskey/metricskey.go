package metricskey

import "github.com/effective-security/metrics"

// Perf
var (
	// PerfDiscovery is perf metric
	PerfDiscovery = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_discovery",
		Help:         "perf_discovery provides the sample metrics of credential discovery runs",
		RequiredTags: []string{"mode", "result"},
	}

	// PerfSlotScan is perf metric
	PerfSlotScan = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_slot_scan",
		Help:         "perf_slot_scan provides the sample metrics of token slot scans",
		RequiredTags: []string{"mode", "action"},
	}
)

// Metrics returns slice of metrics from this repo
var Metrics = []*metrics.Describe{
	&PerfDiscovery,
	&PerfSlotScan,
}
