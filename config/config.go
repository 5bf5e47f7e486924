// Package config loads the capture settings from a file, the environment and
// command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jinmuyano/processnet/netflow"
	"github.com/jinmuyano/processnet/netif"
)

const EnvPrefix = "PROCESSNET"

const (
	KeyClasses        = "interfaces.classes"
	KeyNames          = "interfaces.names"
	KeyIncludeUnknown = "sampling.include_unknown"
	KeyFoldAncestors  = "sampling.fold_ancestors"
	KeyInterval       = "sampling.interval"
	KeySnapLen        = "capture.snaplen"
	KeyReadTimeout    = "capture.read_timeout"
	KeyQueueSize      = "capture.queue_size"
	KeyBPFFilter      = "capture.bpf_filter"
	KeyStorePcap      = "capture.store_dir"
	KeyEngine         = "capture.engine"
	KeyCPU            = "limits.cpu"
	KeyMemoryMB       = "limits.memory_mb"
	KeyDebug          = "log.debug"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Classes        []netif.Class
	Names          []string
	IncludeUnknown bool
	FoldAncestors  bool
	Interval       time.Duration

	SnapLen     int
	ReadTimeout time.Duration
	QueueSize   int
	BPFFilter   string
	StoreDir    string
	Engine      string // pcap or afpacket

	CPU      float64
	MemoryMB int

	Debug bool
}

// SetDefaults registers every key, which also lets AutomaticEnv find them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyClasses, []string{"ethernet"})
	v.SetDefault(KeyNames, []string{})
	v.SetDefault(KeyIncludeUnknown, false)
	v.SetDefault(KeyFoldAncestors, false)
	v.SetDefault(KeyInterval, time.Second)
	v.SetDefault(KeySnapLen, 65536)
	v.SetDefault(KeyReadTimeout, 500*time.Millisecond)
	v.SetDefault(KeyQueueSize, 65536)
	v.SetDefault(KeyBPFFilter, "")
	v.SetDefault(KeyStorePcap, "")
	v.SetDefault(KeyEngine, "pcap")
	v.SetDefault(KeyCPU, 0.0)
	v.SetDefault(KeyMemoryMB, 0)
	v.SetDefault(KeyDebug, false)
}

// New returns a viper instance with defaults and the PROCESSNET_ environment
// overlay, e.g. PROCESSNET_SAMPLING_INTERVAL=5s.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, if given, on top of the defaults and environment.
func Load(path string) (*Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

func FromViper(v *viper.Viper) (*Config, error) {
	var (
		c   = &Config{}
		err error
	)

	c.Classes, err = netif.ParseClasses(stringList(v.Get(KeyClasses)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, KeyClasses, err)
	}
	if len(c.Classes) == 0 {
		c.Classes = netif.DefaultClasses
	}
	c.Names = stringList(v.Get(KeyNames))

	if c.IncludeUnknown, err = cast.ToBoolE(v.Get(KeyIncludeUnknown)); err != nil {
		return nil, invalid(KeyIncludeUnknown, err)
	}
	if c.FoldAncestors, err = cast.ToBoolE(v.Get(KeyFoldAncestors)); err != nil {
		return nil, invalid(KeyFoldAncestors, err)
	}
	if c.Interval, err = cast.ToDurationE(v.Get(KeyInterval)); err != nil || c.Interval <= 0 {
		return nil, invalid(KeyInterval, err)
	}
	if c.SnapLen, err = cast.ToIntE(v.Get(KeySnapLen)); err != nil || c.SnapLen <= 0 {
		return nil, invalid(KeySnapLen, err)
	}
	if c.ReadTimeout, err = cast.ToDurationE(v.Get(KeyReadTimeout)); err != nil {
		return nil, invalid(KeyReadTimeout, err)
	}
	if c.QueueSize, err = cast.ToIntE(v.Get(KeyQueueSize)); err != nil {
		return nil, invalid(KeyQueueSize, err)
	}
	c.BPFFilter = strings.TrimSpace(cast.ToString(v.Get(KeyBPFFilter)))
	c.StoreDir = cast.ToString(v.Get(KeyStorePcap))
	c.Engine = strings.ToLower(strings.TrimSpace(cast.ToString(v.Get(KeyEngine))))
	if _, err := netflow.OpenerFor(c.Engine); err != nil {
		return nil, invalid(KeyEngine, err)
	}

	if c.CPU, err = cast.ToFloat64E(v.Get(KeyCPU)); err != nil || c.CPU < 0 {
		return nil, invalid(KeyCPU, err)
	}
	if c.MemoryMB, err = cast.ToIntE(v.Get(KeyMemoryMB)); err != nil || c.MemoryMB < 0 {
		return nil, invalid(KeyMemoryMB, err)
	}
	if c.Debug, err = cast.ToBoolE(v.Get(KeyDebug)); err != nil {
		return nil, invalid(KeyDebug, err)
	}
	return c, nil
}

// NetflowOptions translates the settings for netflow.NewNetflow.
func (c *Config) NetflowOptions(logger *zap.Logger) []netflow.Option {
	opts := []netflow.Option{
		netflow.WithInterfaceClasses(c.Classes...),
		netflow.WithIncludeUnknown(c.IncludeUnknown),
		netflow.WithFoldAncestors(c.FoldAncestors),
		netflow.WithSnapLen(c.SnapLen),
		netflow.WithQueueSize(c.QueueSize),
		netflow.WithBPFFilter(c.BPFFilter),
		netflow.WithLimitCgroup(c.CPU, c.MemoryMB),
	}
	if c.ReadTimeout != 0 {
		opts = append(opts, netflow.WithReadTimeout(c.ReadTimeout))
	}
	if len(c.Names) != 0 {
		opts = append(opts, netflow.WithInterfaceNames(c.Names...))
	}
	if c.StoreDir != "" {
		opts = append(opts, netflow.WithStorePcap(c.StoreDir))
	}
	if opener, err := netflow.OpenerFor(c.Engine); err == nil {
		opts = append(opts, netflow.WithOpener(opener))
	}
	if logger != nil {
		opts = append(opts, netflow.WithLogger(logger))
	}
	return opts
}

func invalid(key string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s out of range", ErrInvalid, key)
	}
	return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
}

// stringList accepts a list or a comma/space separated string, the latter is
// what flags and environment variables provide.
func stringList(raw interface{}) []string {
	var items []string
	if s, ok := raw.(string); ok {
		items = strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	} else {
		items = cast.ToStringSlice(raw)
	}

	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
