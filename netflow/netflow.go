// Package netflow runs the capture workers and turns what they collect into
// per-process byte counts on demand.
package netflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	pnet "github.com/jinmuyano/processnet"
	"github.com/jinmuyano/processnet/cgroup"
	"github.com/jinmuyano/processnet/netif"
	"github.com/jinmuyano/processnet/packet"
	"github.com/jinmuyano/processnet/socket"
	"github.com/jinmuyano/processnet/stats"
)

const (
	defaultQueueSize = 65536
	minQueueSize     = 1000
)

var _ pnet.PacketClient = (*Netflow)(nil)

type Netflow struct {
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger

	classes    []netif.Class
	names      []string          // explicit interface names, overrides classes
	interfaces []netif.Interface // static list, skips the OS snapshot
	capture    CaptureConfig
	qsize      int
	opener     Opener
	pcapDir    string

	includeUnknown bool
	foldAncestors  bool

	// for cgroup
	cpuCore float64
	memMB   int

	now        func() time.Time
	buffer     *frameBuffer
	correlator *socket.Correlator
	lister     socket.Lister

	lifecycle sync.Mutex // serializes Start and Stop

	mu    sync.Mutex // guards cur and since
	cur   *run
	since time.Time

	exitFunc []func()

	counter     int64
	dropped     int64
	overflowLog *rate.Limiter
}

type optionFunc func(*Netflow) error

// Option configures a Netflow, see the With* functions.
type Option = optionFunc

// WithInterfaceClasses sets which kinds of interface are captured on.
func WithInterfaceClasses(classes ...netif.Class) optionFunc {
	return func(o *Netflow) error {
		if len(classes) == 0 {
			return errors.New("empty interface class list")
		}
		o.classes = classes
		return nil
	}
}

// WithInterfaceNames captures on exactly these interfaces, if they exist.
func WithInterfaceNames(names ...string) optionFunc {
	return func(o *Netflow) error {
		o.names = names
		return nil
	}
}

// WithInterfaces bypasses interface discovery.
func WithInterfaces(ifcs ...netif.Interface) optionFunc {
	return func(o *Netflow) error {
		if len(ifcs) == 0 {
			return errors.New("empty interface list")
		}
		o.interfaces = ifcs
		return nil
	}
}

// WithIncludeUnknown reports unattributed bytes under pnet.UnknownPID
// instead of dropping them from the item list.
func WithIncludeUnknown(include bool) optionFunc {
	return func(o *Netflow) error {
		o.includeUnknown = include
		return nil
	}
}

// WithFoldAncestors charges each process's bytes to its top-most ancestor
// below init.
func WithFoldAncestors(fold bool) optionFunc {
	return func(o *Netflow) error {
		o.foldAncestors = fold
		return nil
	}
}

func WithSnapLen(n int) optionFunc {
	return func(o *Netflow) error {
		if n <= 0 {
			return errors.New("invalid snaplen")
		}
		o.capture.SnapLen = int32(n)
		return nil
	}
}

// WithReadTimeout bounds how long a worker may sit in a read before it checks
// for Stop. pcap.BlockForever lets Stop wait for the next frame.
func WithReadTimeout(dur time.Duration) optionFunc {
	return func(o *Netflow) error {
		if dur == 0 {
			return errors.New("invalid read timeout")
		}
		o.capture.ReadTimeout = dur
		return nil
	}
}

func WithQueueSize(size int) optionFunc {
	if size < minQueueSize {
		size = minQueueSize
	}

	return func(o *Netflow) error {
		o.qsize = size
		return nil
	}
}

// WithBPFFilter adds a pcap filter on top of "tcp or udp".
// filter: "port 80", "host 10.0.0.1 and port 443"
func WithBPFFilter(filter string) optionFunc {
	return func(o *Netflow) error {
		st := strings.TrimSpace(filter)
		if len(st) == 0 {
			return nil
		}
		if strings.HasPrefix(st, "and") || strings.HasPrefix(st, "or") {
			return errors.New("invalid pcap filter")
		}

		o.capture.Filter = st
		return nil
	}
}

func WithLogger(logger *zap.Logger) optionFunc {
	return func(o *Netflow) error {
		if logger == nil {
			return errors.New("nil logger")
		}
		o.logger = logger
		return nil
	}
}

// WithLister replaces the OS socket table.
func WithLister(lister socket.Lister) optionFunc {
	return func(o *Netflow) error {
		o.lister = lister
		return nil
	}
}

// WithOpener replaces live capture, e.g. with ReplayOpener.
func WithOpener(opener Opener) optionFunc {
	return func(o *Netflow) error {
		if opener == nil {
			return errors.New("nil opener")
		}
		o.opener = opener
		return nil
	}
}

// WithLimitCgroup use cgroup to limit cpu and mem, param cpu's unit is cpu core num, mem's unit is MB
func WithLimitCgroup(cpu float64, mem int) optionFunc {
	return func(o *Netflow) error {
		o.cpuCore = cpu
		o.memMB = mem
		return nil
	}
}

// WithStorePcap records every captured buffer into <dir>/<interface>.pcap.
func WithStorePcap(dir string) optionFunc {
	return func(o *Netflow) error {
		o.pcapDir = dir
		return nil
	}
}

func WithClock(now func() time.Time) optionFunc {
	return func(o *Netflow) error {
		if now == nil {
			return errors.New("nil clock")
		}
		o.now = now
		return nil
	}
}

func WithCtx(ctx context.Context) optionFunc {
	return func(o *Netflow) error {
		cctx, cancel := context.WithCancel(ctx)
		o.ctx = cctx
		o.cancel = cancel
		return nil
	}
}

func NewNetflow(opts ...optionFunc) (*Netflow, error) {
	ctx, cancel := context.WithCancel(context.Background())

	nf := &Netflow{
		ctx:     ctx,
		cancel:  cancel,
		logger:  zap.NewNop(),
		classes: netif.DefaultClasses,
		capture: CaptureConfig{
			SnapLen:     defaultSnapLen,
			ReadTimeout: defaultReadTimeout,
		},
		qsize:  defaultQueueSize,
		opener: OpenLive,
		now:    time.Now,
		buffer: newFrameBuffer(),

		overflowLog: rate.NewLimiter(rate.Every(time.Second), 1),
	}

	for _, opt := range opts {
		if err := opt(nf); err != nil {
			cancel()
			return nil, err
		}
	}
	if nf.ctx != ctx {
		// WithCtx replaced the default context
		cancel()
	}

	nf.correlator = socket.NewCorrelator(nf.lister, nf.logger)
	return nf, nil
}

func (nf *Netflow) Done() <-chan struct{} {
	return nf.ctx.Done()
}

func (nf *Netflow) IsRunning() bool {
	nf.mu.Lock()
	defer nf.mu.Unlock()
	return nf.cur != nil
}

// Counter is the number of frames that reached the buffer since creation.
func (nf *Netflow) Counter() int64 {
	return atomic.LoadInt64(&nf.counter)
}

// Dropped is the number of frames lost to a full queue since creation.
func (nf *Netflow) Dropped() int64 {
	return atomic.LoadInt64(&nf.dropped)
}

// Start begins capturing on every eligible interface. It does nothing when
// already running. Interfaces whose capture cannot be opened are skipped.
func (nf *Netflow) Start() error {
	nf.lifecycle.Lock()
	defer nf.lifecycle.Unlock()

	if nf.IsRunning() {
		return nil
	}
	if err := nf.ctx.Err(); err != nil {
		return fmt.Errorf("netflow closed: %w", err)
	}

	ifcs, err := nf.resolveInterfaces()
	if err != nil {
		return err
	}
	if err := nf.buffer.Reset(); err != nil {
		return err
	}

	checkPrivilege(nf.logger)

	// linux cpu/mem by cgroup
	if err := nf.configureCgroups(); err != nil {
		return err
	}

	sources := nf.openSources(ifcs)

	ctx, cancel := context.WithCancel(nf.ctx)
	r := &run{
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan packet.Frame, nf.qsize),
		workers:  make(chan struct{}),
		consumer: make(chan struct{}),
	}

	var (
		wg     sync.WaitGroup
		active int
	)
	for i, src := range sources {
		if src == nil {
			continue
		}
		active++
		wg.Add(1)
		go func(ifc netif.Interface, src Source) {
			defer wg.Done()
			nf.captureDevice(r, ifc, src)
		}(ifcs[i], src)
	}
	go func() {
		wg.Wait()
		close(r.workers)
	}()
	go nf.loopHandleFrames(r)

	nf.mu.Lock()
	nf.cur = r
	nf.since = nf.now()
	nf.mu.Unlock()

	nf.logger.Info("capture started",
		zap.Int("interfaces", len(ifcs)),
		zap.Int("workers", active),
	)
	return nil
}

// Stop signals the workers, waits for them to finish their current read and
// for the queue to be drained into the buffer. Frames not sampled yet are
// discarded by the next Start.
func (nf *Netflow) Stop() {
	nf.lifecycle.Lock()
	defer nf.lifecycle.Unlock()

	nf.mu.Lock()
	r := nf.cur
	nf.mu.Unlock()
	if r == nil {
		return
	}

	r.cancel()
	<-r.workers
	close(r.queue)
	<-r.consumer

	nf.mu.Lock()
	nf.cur = nil
	nf.mu.Unlock()

	nf.finalize()
	nf.logger.Info("capture stopped", zap.Int64("frames", nf.Counter()), zap.Int64("dropped", nf.Dropped()))
}

// Close stops capturing for good, Start fails afterwards.
func (nf *Netflow) Close() {
	nf.Stop()
	nf.cancel()
}

func (nf *Netflow) finalize() {
	for _, fn := range nf.exitFunc {
		fn()
	}
	nf.exitFunc = nil
}

// Sample drains everything buffered since the previous call and attributes
// it. While idle it returns an empty result.
func (nf *Netflow) Sample(ctx context.Context) (pnet.SampleResult, error) {
	nf.mu.Lock()
	if nf.cur == nil {
		nf.mu.Unlock()
		return pnet.SampleResult{}, nil
	}
	now := nf.now()
	elapsed := now.Sub(nf.since)
	nf.since = now
	nf.mu.Unlock()

	frames, err := nf.buffer.Drain()
	if err != nil {
		return pnet.SampleResult{}, err
	}

	reducer := stats.Reducer{IncludeUnknown: nf.includeUnknown}
	if nf.foldAncestors {
		tree, err := stats.LoadProcessTree()
		if err != nil {
			nf.logger.Warn("process tree unavailable, ancestors not folded", zap.Error(err))
		} else {
			reducer.Resolver = tree
		}
	}

	ports := nf.correlator.BuildPortMap(ctx, frames)
	red := reducer.Reduce(frames, ports)

	return pnet.SampleResult{
		Items:         red.Items,
		Elapsed:       elapsed,
		TotalUpload:   red.TotalUpload,
		TotalDownload: red.TotalDownload,
		Frames:        len(frames),
	}, nil
}

func (nf *Netflow) resolveInterfaces() ([]netif.Interface, error) {
	if len(nf.interfaces) != 0 {
		return nf.interfaces, nil
	}

	all, err := netif.Snapshot()
	if err != nil {
		return nil, err
	}
	if len(nf.names) != 0 {
		return netif.ByName(all, nf.names), nil
	}
	return netif.Eligible(all, nf.classes), nil
}

// openSources opens all interfaces in parallel. Failed ones are left nil.
func (nf *Netflow) openSources(ifcs []netif.Interface) []Source {
	var (
		sources = make([]Source, len(ifcs))
		g       errgroup.Group
	)

	for i := range ifcs {
		i := i
		g.Go(func() error {
			src, err := nf.opener(ifcs[i], nf.capture)
			if err != nil {
				nf.logger.Warn("skip interface", zap.String("interface", ifcs[i].Name), zap.Error(err))
				return nil
			}
			if nf.pcapDir != "" {
				src, err = recordSource(src, nf.pcapDir, ifcs[i].Name, nf.capture.SnapLen)
				if err != nil {
					nf.logger.Warn("pcap recording disabled", zap.String("interface", ifcs[i].Name), zap.Error(err))
				}
			}
			sources[i] = src
			return nil
		})
	}
	g.Wait()
	return sources
}

func (nf *Netflow) configureCgroups() error {
	limits := cgroup.Limits{CPU: nf.cpuCore, MemoryMB: nf.memMB}
	if limits.IsZero() {
		return nil
	}

	limiter, err := cgroup.Apply(os.Getpid(), limits)
	if err != nil {
		return fmt.Errorf("configure cgroup: %w", err)
	}
	nf.exitFunc = append(nf.exitFunc, func() {
		if err := limiter.Free(); err != nil {
			nf.logger.Warn("free cgroup", zap.Error(err))
		}
	})
	return nil
}
