package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/i5heu/GoMPSCRing/internal/logging"
	"github.com/i5heu/GoMPSCRing/internal/queue"
	"github.com/i5heu/GoMPSCRing/internal/report"
	"github.com/i5heu/GoMPSCRing/internal/testbench"
	"github.com/i5heu/GoMPSCRing/pkg/buffered"
	"github.com/i5heu/GoMPSCRing/pkg/config"
	"github.com/i5heu/GoMPSCRing/pkg/epochring"
	"github.com/i5heu/GoMPSCRing/pkg/seqmpsc"
)

// benchQueue is the shape every benchmarked queue is driven through.
type benchQueue = queue.TryQueue[*int]

// Implementation represents a queue implementation.
type Implementation[T any, Q queue.TryQueue[T]] struct {
	name        string
	description string
	pkgName     string
	authors     []string
	features    []string
	newQueue    func(capacity uint64) Q
}

// commonCPUs are the GOMAXPROCS values tested when none are configured.
var commonCPUs = []int{1, 2, 3, 4, 6, 8, 12, 16, 32, 48, 56, 64, 96, 128, 192, 256, 384, 512}

// cpuSettings picks the GOMAXPROCS values to run, never exceeding the
// machine's CPU count.
func cpuSettings(requested []int, trueCPUs int) []int {
	candidates := requested
	if len(candidates) == 0 {
		candidates = commonCPUs
	}

	seen := make(map[int]bool)
	var out []int
	for _, v := range candidates {
		if v > trueCPUs {
			if len(requested) == 0 {
				continue
			}
			v = trueCPUs
		}
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}

// parseIntList parses "1,2,10" into its values.
func parseIntList(s string) ([]int, error) {
	var out []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("parsing %q: %w", field, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// writeMarkdownTable writes the last session in sessions as a Markdown table,
// averaging throughput over iterations of the same implementation and
// producer count.
func writeMarkdownTable(w io.Writer, sessions []report.FullReport) error {
	if len(sessions) == 0 {
		return errors.New("no sessions found in JSON")
	}
	lastSession := sessions[len(sessions)-1]

	implMetaMap := make(map[string]Implementation[*int, benchQueue])
	for _, impl := range getImplementations() {
		implMetaMap[impl.name] = impl
	}

	type rowKey struct {
		implementation string
		producers      int
	}
	type tableRow struct {
		rowKey
		pkgName    string
		features   string
		author     string
		throughput float64
		runs       int
	}
	rowsByKey := make(map[rowKey]*tableRow)
	var rows []*tableRow
	for _, bench := range lastSession.Benchmarks {
		key := rowKey{bench.Implementation, bench.NumProducers}
		row, ok := rowsByKey[key]
		if !ok {
			row = &tableRow{rowKey: key}
			if meta, ok := implMetaMap[bench.Implementation]; ok {
				row.pkgName = meta.pkgName
				row.features = strings.Join(meta.features, ", ")
				row.author = strings.Join(meta.authors, ", ")
			}
			rowsByKey[key] = row
			rows = append(rows, row)
		}
		row.throughput += bench.Throughput
		row.runs++
	}
	for _, r := range rows {
		r.throughput /= float64(r.runs)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].producers != rows[j].producers {
			return rows[i].producers < rows[j].producers
		}
		return rows[i].throughput > rows[j].throughput
	})

	fmt.Fprintln(w, "## Last Session Benchmark Summary")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Implementation           | Package    | Features                  | Author                      | Producers | Throughput (msgs/sec) |")
	fmt.Fprintln(w, "|--------------------------|------------|---------------------------|-----------------------------|-----------|-----------------------|")
	for _, r := range rows {
		fmt.Fprintf(w, "| %-24s | %-10s | %-25s | %-27s | %9d | %21.0f |\n",
			r.implementation, r.pkgName, r.features, r.author, r.producers, r.throughput)
	}
	return nil
}

// runSessions benchmarks every implementation for each CPU setting, producer
// count and iteration, returning one report per CPU setting.
func runSessions(cfg config.BenchConfig, cpus []int, impls []Implementation[*int, benchQueue], bar *progressbar.ProgressBar, logger *zap.Logger) []report.FullReport {
	sessionID := uuid.NewString()
	trueCPUCount := runtime.NumCPU()
	prevProcs := runtime.GOMAXPROCS(0)
	defer runtime.GOMAXPROCS(prevProcs)

	var allSessions []report.FullReport
	for _, procs := range cpus {
		runtime.GOMAXPROCS(procs)
		sysInfo := gatherSystemInfo()
		sysInfo.NumCPU = procs
		sysInfo.TrueCPU = trueCPUCount
		sysInfo.SimulatedCPUCount = procs

		logger.Info("cpu setting", zap.Int("gomaxprocs", procs))

		var results []report.BenchmarkResult
		for _, producers := range cfg.Producers {
			conc := config.Concurrency{NumProducers: producers}
			for iteration := 1; iteration <= cfg.Iterations; iteration++ {
				for _, impl := range impls {
					runtime.GC()
					q := impl.newQueue(cfg.Capacity)

					produced, consumed, actualTime := testbench.RunTimedTest[*int](
						q,
						conc,
						cfg.Duration,
						func(i int) *int {
							v := i
							return &v
						},
						logger,
					)
					throughput := float64(consumed) / actualTime.Seconds()

					logger.Info("run finished",
						zap.String("impl", impl.name),
						zap.Int("producers", producers),
						zap.Int("iteration", iteration),
						zap.Int64("produced", produced),
						zap.Int64("consumed", consumed),
						zap.Float64("msgs_per_sec", throughput),
						zap.Duration("took", actualTime))
					if bar != nil {
						_ = bar.Add(1)
					}

					results = append(results, report.BenchmarkResult{
						Implementation:      impl.name,
						NumProducers:        producers,
						NumConsumers:        1,
						Capacity:            cfg.Capacity,
						NumMessages:         produced,
						NumMessagesConsumed: consumed,
						TestDuration:        cfg.Duration.String(),
						ActualElapsed:       actualTime.String(),
						Throughput:          throughput,
						Timestamp:           time.Now().Unix(),
						GoVersion:           runtime.Version(),
					})
				}
			}
		}

		allSessions = append(allSessions, report.FullReport{
			SessionID:   sessionID,
			SessionTime: time.Now().Format(time.RFC3339),
			SystemInfo:  sysInfo,
			Benchmarks:  results,
		})
	}
	return allSessions
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	testIterations := flag.Int("iter", 0, "Number of test iterations per concurrency setting (overrides config)")
	cpuFlag := flag.String("cpu", "", "Comma separated GOMAXPROCS values to test; empty tests common CPU/vCPU values up to runtime.NumCPU()")
	producersFlag := flag.String("producers", "", "Comma separated producer counts (overrides config)")
	durationFlag := flag.Duration("duration", 0, "Duration of each run (overrides config)")
	jsonExport := flag.Bool("json", false, "Append results as JSON to the json file")
	markdownTable := flag.Bool("markdown-table", false, "Output markdown table from the json file and exit")
	jsonFile := flag.String("jsonfile", "", "Path to JSON results file (overrides config)")
	progressFlag := flag.Bool("progress", false, "Display a progress bar with ETA")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration as YAML and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "iter":
			cfg.Bench.Iterations = *testIterations
		case "cpu":
			cfg.Bench.CPUs, err = parseIntList(*cpuFlag)
			flagErr = errors.Join(flagErr, err)
		case "producers":
			cfg.Bench.Producers, err = parseIntList(*producersFlag)
			flagErr = errors.Join(flagErr, err)
		case "duration":
			cfg.Bench.Duration = *durationFlag
		case "jsonfile":
			cfg.Bench.JSONFile = *jsonFile
		case "progress":
			cfg.Bench.Progress = *progressFlag
		}
	})
	if err := errors.Join(flagErr, cfg.Validate()); err != nil {
		fmt.Fprintln(os.Stderr, "Invalid configuration:", err)
		os.Exit(1)
	}

	if *printConfig {
		if err := cfg.WriteYAML(os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if *markdownTable {
		sessions, err := report.Load(cfg.Bench.JSONFile)
		if err == nil {
			err = writeMarkdownTable(os.Stdout, sessions)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		return
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error creating logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cpus := cpuSettings(cfg.Bench.CPUs, runtime.NumCPU())
	impls := getImplementations()

	var bar *progressbar.ProgressBar
	if cfg.Bench.Progress {
		totalTests := len(cpus) * len(cfg.Bench.Producers) * cfg.Bench.Iterations * len(impls)
		bar = progressbar.NewOptions(totalTests,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Progress"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionSetWidth(20),
		)
	}

	allSessions := runSessions(cfg.Bench, cpus, impls, bar, logger)

	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	if *jsonExport {
		if err := report.Append(cfg.Bench.JSONFile, allSessions); err != nil {
			logger.Error("writing results", zap.Error(err))
			logger.Sync()
			os.Exit(1)
		}
		logger.Info("wrote results", zap.String("file", cfg.Bench.JSONFile))
	}
}

// gatherSystemInfo collects basic CPU and memory details.
func gatherSystemInfo() report.SystemInfo {
	var cpuModel string
	var cpuSpeed float64
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		cpuModel = infos[0].ModelName
		cpuSpeed = infos[0].Mhz
	}

	var totalMemory uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		totalMemory = vm.Total
	}

	return report.SystemInfo{
		NumCPU:      runtime.NumCPU(),
		CPUModel:    cpuModel,
		CPUSpeedMHz: cpuSpeed,
		GOARCH:      runtime.GOARCH,
		TotalMemory: totalMemory,
	}
}

// getImplementations enumerates our different queue implementations.
func getImplementations() []Implementation[*int, benchQueue] {
	return []Implementation[*int, benchQueue]{
		{
			name:        "EpochRing",
			pkgName:     "epochring",
			description: "Lock-free MPSC ring: per-slot generation flags, a shared epoch and in-order publication through the tail.",
			authors:     []string{"Mia Heidenstedt <heidenstedt.org>"},
			features:    []string{"MPSC", "FIFO", "Backpressure"},
			newQueue: func(capacity uint64) benchQueue {
				return epochring.NewQueue[*int](capacity)
			},
		},
		{
			name:        "SeqMPSCQueue",
			pkgName:     "seqmpsc",
			description: "Lock-free MPSC ring with one sequence number per slot.",
			authors:     []string{"Mia Heidenstedt <heidenstedt.org>"},
			features:    []string{"MPSC", "FIFO", "Backpressure"},
			newQueue: func(capacity uint64) benchQueue {
				return seqmpsc.New[*int](capacity)
			},
		},
		{
			name:        "Golang Buffered Channel",
			pkgName:     "buffered",
			description: "Standard Go buffered channel.",
			authors:     []string{"Mia Heidenstedt <heidenstedt.org>"},
			features:    []string{"MPMC", "MPSC", "FIFO", "Backpressure"},
			newQueue: func(capacity uint64) benchQueue {
				return buffered.New[*int](capacity)
			},
		},
	}
}
