package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryMonitorRecordsSamples(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(cwd) })

	cfg := Config{
		MemoryMonitoringEnabled:  true,
		MemoryMonitoringInterval: 60,
		MemoryMonitoringFile:     "heap.json",
	}

	monitor := NewMemoryMonitor(&cfg)
	monitor.Start()
	monitor.Stop()

	// one sample on start, one on shutdown
	metrics := monitor.GetMetrics()
	require.GreaterOrEqual(t, len(metrics), 2)
	require.Greater(t, metrics[0].HeapAllocBytes, 0.0)

	data, err := os.ReadFile(filepath.Join("results", "heap.json"))
	require.NoError(t, err)

	var written []MemoryMetricEntry
	require.NoError(t, json.Unmarshal(data, &written))
	require.Len(t, written, len(metrics))
}

func TestMemoryMonitorDisabled(t *testing.T) {
	cfg := Config{MemoryMonitoringEnabled: false}
	monitor := NewMemoryMonitor(&cfg)
	monitor.Start()
	monitor.Stop()
	require.Empty(t, monitor.GetMetrics())
}
