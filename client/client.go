// Package client samples a capture engine on a schedule and keeps the most
// recent per-process report.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	pnet "github.com/jinmuyano/processnet"
	"github.com/jinmuyano/processnet/handoff"
)

type PacketClientConfig struct {
	Interval       string   // 抓取频率: 1s, 10s, 1m
	ProcessKeyword []string // 只统计可执行文件包含这些关键词的进程,为空统计全部
	Limit          int      // 只保留流量最大的前 N 个进程,0 不限制
}

func NewPacketClientConfig() PacketClientConfig {
	return PacketClientConfig{
		Interval: "1s",
	}
}

// Validate checks the interval is something cron can schedule.
func (c PacketClientConfig) Validate() error {
	d, err := time.ParseDuration(c.Interval)
	if err != nil {
		return fmt.Errorf("invalid interval %q: %w", c.Interval, err)
	}
	if d < time.Second {
		return errors.New("interval must be at least 1s")
	}
	if c.Limit < 0 {
		return errors.New("negative limit")
	}
	return nil
}

type PacketClient struct {
	conf     PacketClientConfig
	engine   pnet.PacketClient
	registry *handoff.Registry
	lookup   Lookup
	logger   *zap.Logger

	crontab *cron.Cron
	handler func(Report)

	mu     sync.RWMutex
	latest Report
	runs   int
	errs   int
}

// NewPacketClient wraps engine. handler, if not nil, is called with every
// report from the sampling goroutine.
func NewPacketClient(conf PacketClientConfig, engine pnet.PacketClient, handler func(Report), logger *zap.Logger) (*PacketClient, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PacketClient{
		conf:     conf,
		engine:   engine,
		registry: handoff.NewRegistry(),
		lookup:   FindProcess,
		logger:   logger,
		handler:  handler,
	}, nil
}

// Start starts the engine and the sampling schedule.
func (c *PacketClient) Start() error {
	if err := c.engine.Start(); err != nil {
		return err
	}
	c.newcron()
	return nil
}

func (c *PacketClient) Stop() {
	if c.crontab != nil {
		c.crontab.Stop()
		c.crontab = nil
	}
	c.engine.Stop()

	if n := c.registry.Outstanding(); n != 0 {
		c.logger.Warn("samples not released", zap.Int("count", n))
	}
}

func (c *PacketClient) newcron() {
	c.crontab = cron.New()
	timeInterval := fmt.Sprintf("@every %s", c.conf.Interval)
	c.logger.Debug("sampling schedule", zap.String("spec", timeInterval))
	// Validate already parsed the interval
	_ = c.crontab.AddFunc(timeInterval, c.run)
	c.crontab.Start()
}

func (c *PacketClient) run() {
	if _, err := c.RunOnce(context.Background()); err != nil {
		c.logger.Error("sample failed", zap.Error(err))
	}
}

// RunOnce takes one sample and publishes its report.
func (c *PacketClient) RunOnce(ctx context.Context) (Report, error) {
	res, err := c.engine.Sample(ctx)
	if err != nil {
		c.mu.Lock()
		c.errs++
		c.mu.Unlock()
		return Report{}, err
	}

	// the report keeps its own copies, the sample goes back right away
	h := c.registry.HandOff(res)
	defer func() {
		if err := c.registry.Release(h); err != nil {
			c.logger.Error("release sample", zap.Error(err))
		}
	}()

	view, err := c.registry.View(h)
	if err != nil {
		return Report{}, err
	}
	report := c.analyse(view)

	c.mu.Lock()
	c.latest = report
	c.runs++
	c.mu.Unlock()

	if c.handler != nil {
		c.handler(report)
	}
	return report, nil
}

// GetBandWidth returns the most recent report.
func (c *PacketClient) GetBandWidth() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// GetProcess returns pid's entry of the most recent report.
func (c *PacketClient) GetProcess(pid uint32) (*Process, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.latest.Processes {
		if p.Pid == pid {
			cp := *p
			return &cp, true
		}
	}
	return nil, false
}

// Stats returns how many samples succeeded and failed.
func (c *PacketClient) Stats() (runs, errs int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runs, c.errs
}

func (c *PacketClient) analyse(res pnet.SampleResult) Report {
	report := Report{
		Time:          time.Now(),
		Elapsed:       res.Elapsed,
		TotalUpload:   res.TotalUpload,
		TotalDownload: res.TotalDownload,
		Frames:        res.Frames,
		Processes:     make([]*Process, 0, len(res.Items)),
	}

	for _, item := range res.Items {
		p := newProcess(item, res.Elapsed)
		p.Exe = c.lookup(item.PID)
		p.Name = processName(p.Exe)
		if !isMatchProcess(p.Exe, c.conf.ProcessKeyword) {
			continue
		}
		report.Processes = append(report.Processes, p)
	}

	report.Processes = rank(report.Processes, c.conf.Limit)
	return report
}

func isMatchProcess(exe string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, key := range keywords {
		if strings.Contains(exe, key) {
			return true
		}
	}
	return false
}
