// spmvperf measures the sparse multiply throughput of every device of a
// backend and prints the row partition those weights produce.
//
// Example:
//
//	spmvperf --config go:cpu,gpu,gpu --rows 1000000
package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gosparse/gosparse/backends"
	_ "github.com/gosparse/gosparse/backends/nativego"
	"github.com/gosparse/gosparse/sparse"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var (
	flagConfig string
	flagRows   int
)

func main() {
	cmd := &cobra.Command{
		Use:   "spmvperf",
		Short: "Benchmark sparse matrix-vector multiply across the devices of a backend",
		Long: "spmvperf runs a small Poisson-problem multiply on each device of the " +
			"selected backend, reports the measured relative weights and shows how " +
			"--rows rows would be partitioned across the devices.",
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
	cmd.Flags().StringVar(&flagConfig, "config", "",
		`backend configuration, "<name>:<config>" (e.g. "go:cpu,gpu"); defaults to $`+
			backends.GOSPARSE_BACKEND)
	cmd.Flags().IntVar(&flagRows, "rows", 1<<20, "number of matrix rows to partition")
	klog.InitFlags(nil)
	if err := cmd.Execute(); err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

func run() {
	var backend backends.Backend
	if flagConfig != "" {
		backend = must.M1(backends.NewWithConfig(flagConfig))
	} else {
		backend = must.M1(backends.New())
	}
	defer backend.Finalize()
	fmt.Printf("Backend: %s\n\n", backend.Description())

	numDevices := int(backend.NumDevices())
	bar := progressbar.NewOptions(numDevices,
		progressbar.OptionSetDescription("probing devices"),
		progressbar.OptionClearOnFinish())
	queues := make([]backends.Queue, numDevices)
	weights := make([]float64, numDevices)
	for d := range queues {
		dev := backend.Device(backends.DeviceNum(d))
		queues[d] = dev.NewQueue()
		weights[d] = must.M1(sparse.DevicePerf(dev))
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	var total float64
	for _, w := range weights {
		total += w
	}
	part := sparse.PartitionWeighted(flagRows, weights)

	fmt.Printf("%-16s %-12s %10s %22s\n", "DEVICE", "TYPE", "WEIGHT", "ROWS")
	for d, q := range queues {
		dev := q.Device()
		rows := part[d+1] - part[d]
		fmt.Printf("%-16s %-12s %9.1f%% %12s [%d, %d)\n",
			dev.Name(), dev.Type(), 100*weights[d]/total,
			humanize.Comma(int64(rows)), part[d], part[d+1])
	}
}
