package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jinmuyano/processnet/client"
	"github.com/jinmuyano/processnet/config"
	"github.com/jinmuyano/processnet/logging"
	"github.com/jinmuyano/processnet/netflow"
)

type options struct {
	cfgFile  string
	keywords []string
	limit    int
	replay   map[string]string
	samples  int
	asJSON   bool
}

func newRootCmd() *cobra.Command {
	var (
		opts = &options{}
		v    = config.New()
	)

	cmd := &cobra.Command{
		Use:   "processnet",
		Short: "Per-process network traffic",
		Long: `processnet captures TCP and UDP traffic on the physical interfaces and
reports, once per interval, how many bytes every process sent and received.

Capturing live traffic needs root or CAP_NET_RAW.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.cfgFile != "" {
				v.SetConfigFile(opts.cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config %s: %w", opts.cfgFile, err)
				}
			}
			return run(cmd.Context(), v, opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.StringSlice("classes", nil, "interface classes to capture on: ethernet, loopback, tunnel, awdl, llw, bridge, p2p")
	flags.StringSlice("interfaces", nil, "capture on exactly these interfaces")
	flags.Bool("include-unknown", false, "report bytes without an owning process under pid 0")
	flags.Bool("fold-ancestors", false, "charge traffic to the top-most ancestor process")
	flags.Duration("interval", 0, "sampling interval, at least 1s")
	flags.Int("snaplen", 0, "capture buffer size per packet")
	flags.Duration("read-timeout", 0, "capture read timeout")
	flags.Int("queue-size", 0, "frames queued between capture and aggregation")
	flags.String("filter", "", "extra BPF filter, e.g. \"port 443\"")
	flags.String("store-dir", "", "record captured packets into <dir>/<interface>.pcap")
	flags.String("engine", "", "capture engine: pcap or afpacket (linux)")
	flags.Float64("cpu", 0, "cgroup cpu limit in cores")
	flags.Int("memory-mb", 0, "cgroup memory limit in MB")
	flags.Bool("debug", false, "debug logging")
	flags.StringSliceVar(&opts.keywords, "keyword", nil, "only show processes whose executable contains one of these")
	flags.IntVar(&opts.limit, "limit", 0, "show at most this many processes")
	flags.StringToStringVar(&opts.replay, "replay", nil, "read interface traffic from pcap files instead, e.g. eth0=eth0.pcap")
	flags.IntVar(&opts.samples, "samples", 0, "exit after this many samples, 0 runs until interrupted")
	flags.BoolVar(&opts.asJSON, "json", false, "print reports as JSON lines")

	bind := map[string]string{
		config.KeyClasses:        "classes",
		config.KeyNames:          "interfaces",
		config.KeyIncludeUnknown: "include-unknown",
		config.KeyFoldAncestors:  "fold-ancestors",
		config.KeyInterval:       "interval",
		config.KeySnapLen:        "snaplen",
		config.KeyReadTimeout:    "read-timeout",
		config.KeyQueueSize:      "queue-size",
		config.KeyBPFFilter:      "filter",
		config.KeyStorePcap:      "store-dir",
		config.KeyEngine:         "engine",
		config.KeyCPU:            "cpu",
		config.KeyMemoryMB:       "memory-mb",
		config.KeyDebug:          "debug",
	}
	// a flag only wins over file and environment when set explicitly
	for key, flag := range bind {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

func run(ctx context.Context, v *viper.Viper, opts *options, out io.Writer) error {
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	nfOpts := append(cfg.NetflowOptions(logger), netflow.WithCtx(ctx))
	if len(opts.replay) != 0 {
		nfOpts = append(nfOpts,
			netflow.WithInterfaceNames(replayNames(opts.replay)...),
			netflow.WithOpener(netflow.ReplayOpener(opts.replay)),
		)
	}
	nf, err := netflow.NewNetflow(nfOpts...)
	if err != nil {
		return err
	}
	defer nf.Close()

	var (
		printer = newPrinter(out, opts.asJSON)
		done    = make(chan struct{})
		mu      sync.Mutex
		count   int
	)
	// cron may overlap runs when printing is slow
	handler := func(r client.Report) {
		mu.Lock()
		defer mu.Unlock()

		if err := printer(r); err != nil {
			logger.Warn("print report", zap.Error(err))
		}
		count++
		if opts.samples > 0 && count == opts.samples {
			close(done)
		}
	}

	conf := client.NewPacketClientConfig()
	conf.Interval = cfg.Interval.String()
	conf.ProcessKeyword = opts.keywords
	conf.Limit = opts.limit

	pc, err := client.NewPacketClient(conf, nf, handler, logger)
	if err != nil {
		return err
	}
	if err := pc.Start(); err != nil {
		return err
	}
	defer pc.Stop()

	logger.Info("sampling", zap.Duration("interval", cfg.Interval))
	select {
	case <-nf.Done():
	case <-done:
	}
	return nil
}

func replayNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newPrinter(out io.Writer, asJSON bool) func(client.Report) error {
	if asJSON {
		enc := json.NewEncoder(out)
		return func(r client.Report) error {
			return enc.Encode(r)
		}
	}

	return func(r client.Report) error {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "%s\tframes %d\tup %s\tdown %s\n",
			r.Time.Format("15:04:05"), r.Frames, humanBytes(float64(r.TotalUpload)), humanBytes(float64(r.TotalDownload)))
		fmt.Fprintln(tw, "PID\tNAME\tUP/s\tDOWN/s\tUP\tDOWN")
		for _, p := range r.Processes {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
				p.Pid, p.Name,
				humanBytes(p.OutRate), humanBytes(p.InRate),
				humanBytes(float64(p.UploadBytes)), humanBytes(float64(p.DownloadBytes)))
		}
		fmt.Fprintln(tw)
		return tw.Flush()
	}
}

func humanBytes(n float64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%.0fB", n)
	}
	div, exp := float64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", n/div, "KMGTPE"[exp])
}
