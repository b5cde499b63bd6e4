// lycheefs mounts a Lychee photo library as a read-only filesystem.
//
// Albums become directories and photos become files. Content is downloaded
// on first read and kept in a memory cache.
//
// Sub-commands:
//
//	lycheefs mount [flags] <mountpoint>   Mount the library (default)
//	lycheefs tree [flags]                 Print the album tree as YAML
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/lycheefs/lycheefs/internal/config"
	"github.com/lycheefs/lycheefs/internal/logging"
	"github.com/lycheefs/lycheefs/internal/metrics"
	"github.com/lycheefs/lycheefs/pkg/cache"
	"github.com/lycheefs/lycheefs/pkg/fuse"
	"github.com/lycheefs/lycheefs/pkg/lychee"
	"github.com/lycheefs/lycheefs/pkg/models"
	"github.com/lycheefs/lycheefs/pkg/retry"
	"github.com/lycheefs/lycheefs/pkg/vfs"
)

const healthCheckPeriod = 30 * time.Second

func main() {
	args := os.Args[1:]
	cmd := "mount"
	if len(args) > 0 && (args[0] == "mount" || args[0] == "tree") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "tree":
		err = cmdTree(args)
	default:
		err = cmdMount(args)
	}
	_ = logging.Sync()

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the flags shared by every sub-command.
type options struct {
	config   string
	instance string
	quality  string
	flags    *pflag.FlagSet
	// args checks positional arguments before any settings or network work.
	args func([]string) error
}

func newFlagSet(name string) *options {
	o := &options{flags: pflag.NewFlagSet(name, pflag.ContinueOnError)}
	fs := o.flags
	fs.StringVarP(&o.config, "config", "c", "settings.yaml", "Settings file (YAML or JSON)")
	fs.StringVarP(&o.instance, "instance", "i", "", "Instance to use (default: default_instance, else the first)")
	fs.StringVarP(&o.quality, "quality", "q", "", "Minimum photo quality (thumb ... original)")
	fs.StringSliceP("options", "o", nil, "Mount options passed to the kernel (repeatable)")
	fs.BoolP("verbose", "v", false, "Enable debug logging")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.Bool("allow-other", false, "Allow other users to access the mount")
	fs.Bool("debug", false, "Log every FUSE request")
	return o
}

// setup holds everything a sub-command needs after flag parsing.
type setup struct {
	cfg     *config.Config
	inst    config.Instance
	quality models.Quality
	log     *zap.Logger
}

func (o *options) load(args []string) (*setup, error) {
	if err := o.flags.Parse(args); err != nil {
		return nil, err
	}
	if o.args != nil {
		if err := o.args(o.flags.Args()); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(o.config, o.flags)
	if err != nil {
		return nil, err
	}
	if err := logging.Init(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.Output,
	}); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	log := logging.L()

	inst, err := cfg.Select(o.instance, log)
	if err != nil {
		return nil, err
	}

	quality := inst.ParsedQuality()
	if o.quality != "" {
		if quality, err = models.ParseQuality(o.quality); err != nil {
			return nil, err
		}
	}

	if inst.User != "" && inst.Password == "" && term.IsTerminal(int(syscall.Stdin)) {
		fmt.Fprintf(os.Stderr, "Password for %s@%s: ", inst.User, inst.Name)
		pw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		inst.Password = string(pw)
	}

	return &setup{cfg: cfg, inst: inst, quality: quality, log: log}, nil
}

// connect opens a session with the instance and logs in when a user is set.
func (s *setup) connect(ctx context.Context) (*lychee.Client, error) {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = s.cfg.Remote.Retries + 1

	client, err := lychee.New(lychee.Config{
		BaseURL:     s.inst.URL,
		Timeout:     s.cfg.Remote.Timeout,
		RetryConfig: rc,
		Logger:      logging.Named("lychee"),
	})
	if err != nil {
		return nil, err
	}
	if err := client.Init(ctx); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", s.inst.URL, err)
	}
	if s.inst.User != "" {
		if err := client.Login(ctx, s.inst.User, s.inst.Password); err != nil {
			return nil, fmt.Errorf("login as %s: %w", s.inst.User, err)
		}
		s.log.Info("logged in", logging.Instance(s.inst.Name), zap.String("user", s.inst.User))
	} else {
		s.log.Info("browsing anonymously", logging.Instance(s.inst.Name))
	}
	return client, nil
}

// session creates the filesystem engine for client.
func (s *setup) session(client *lychee.Client) (*vfs.FS, error) {
	store, err := cache.New(cache.Config{
		Policy:   s.cfg.CachePolicy(),
		MaxBytes: s.cfg.CacheBytes(),
		TTL:      s.cfg.Cache.TTL,
		Logger:   logging.Named("cache"),
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("content cache ready", zap.String("policy", string(s.cfg.CachePolicy())), logging.Size("max", s.cfg.CacheBytes()))
	return vfs.New(client, vfs.Config{
		Quality:           s.quality,
		Collisions:        s.cfg.Collisions(),
		OnError:           s.cfg.OnError(),
		Cache:             store,
		FetchTimeout:      s.cfg.Remote.Timeout,
		RefreshInterval:   s.cfg.Tree.RefreshInterval,
		HealthCheckPeriod: healthCheckPeriod,
		Logger:            logging.Named("vfs"),
	}), nil
}

func cmdMount(args []string) error {
	o := newFlagSet("mount")
	o.flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lycheefs [mount] [flags] <mountpoint>\n\n%s", o.flags.FlagUsages())
	}
	o.args = func(pos []string) error {
		if len(pos) != 1 {
			o.flags.Usage()
			return fmt.Errorf("exactly one mountpoint is required")
		}
		return fuse.CheckMountPoint(pos[0])
	}
	s, err := o.load(args)
	if err != nil {
		return err
	}
	mountPoint := o.flags.Arg(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Logout(context.Background()); err != nil {
			s.log.Debug("logout failed", zap.Error(err))
		}
	}()

	fsys, err := s.session(client)
	if err != nil {
		return err
	}
	defer fsys.Close()

	s.log.Info("building album tree", zap.String("url", s.inst.URL), zap.Stringer("quality", s.quality))
	if err := fsys.Build(ctx); err != nil {
		return err
	}

	server, err := fuse.Mount(mountPoint, fsys, fuse.Options{
		AllowOther:   s.cfg.Mount.AllowOther,
		Debug:        s.cfg.Mount.Debug,
		Options:      s.cfg.Mount.Options,
		AttrTimeout:  s.cfg.Mount.AttrTimeout,
		EntryTimeout: s.cfg.Mount.EntryTimeout,
		Logger:       logging.Named("fuse"),
	})
	if err != nil {
		return err
	}

	fsys.StartRefreshLoop(ctx)
	fsys.StartHealthCheck(ctx)

	if addr := s.cfg.Metrics.Addr; addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := metrics.Register(reg, fsys); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		go func() {
			if err := metrics.Serve(ctx, addr, reg, logging.Named("metrics")); err != nil {
				s.log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	if w, err := config.Watch(o.config, o.flags, func(cfg *config.Config, err error) {
		if err != nil {
			s.log.Warn("settings reload failed", zap.Error(err))
			return
		}
		before := logging.Level()
		logging.SetLevel(cfg.Logging.Level)
		s.log.Info("settings reloaded, log level applied; other changes need a remount",
			zap.Stringer("from", before), zap.Stringer("level", logging.Level()))
	}); err != nil {
		s.log.Warn("not watching settings file", zap.Error(err))
	} else {
		defer w.Close()
	}

	s.log.Info("filesystem mounted, press Ctrl+C to unmount", logging.Path(mountPoint))

	unmounted := make(chan struct{})
	go func() {
		server.Wait()
		close(unmounted)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				s.log.Info("refresh requested")
				go func() {
					if err := fsys.Refresh(ctx); err != nil {
						s.log.Error("refresh failed", zap.Error(err))
					}
				}()
				continue
			}
			s.log.Info("unmounting", zap.Stringer("signal", sig))
			if err := server.Unmount(); err != nil {
				s.log.Error("unmount failed, is the mountpoint busy?", zap.Error(err))
				continue
			}
			<-unmounted
			s.log.Info("done")
			return nil
		case <-unmounted:
			s.log.Info("unmounted externally")
			return nil
		}
	}
}
