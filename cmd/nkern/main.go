package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/evanphx/nkern/config"
	"github.com/evanphx/nkern/fs"
	"github.com/evanphx/nkern/fs/host"
	"github.com/evanphx/nkern/fs/memfs"
	"github.com/evanphx/nkern/fs/tarfs"
	"github.com/evanphx/nkern/kernel"
	clog "github.com/evanphx/nkern/log"
	"github.com/evanphx/nkern/loader"
	"github.com/evanphx/nkern/progs"
	"github.com/evanphx/nkern/sched"
	"github.com/evanphx/nkern/syscalls"
	"github.com/spf13/pflag"
)

var (
	fConfig   = pflag.StringP("config", "c", "", "YAML configuration file")
	fRoot     = pflag.StringP("root", "r", "", "host directory to use as the file store")
	fImage    = pflag.StringP("image", "i", "", "tar archive to load into the file store")
	fSuffix   = pflag.String("suffix", "", "file name suffix required of executables")
	fThreads  = pflag.Int("max-threads", -1, "maximum number of running processes")
	fLogLevel = pflag.String("log-level", "", "log level (trace, debug, info, warn, error)")
	fDump     = pflag.Bool("dump", false, "print the effective config at boot and the kernel tables at halt")
)

func loadConfig() (*config.Config, error) {
	cfg := config.Default()

	if *fConfig != "" {
		var err error

		cfg, err = config.ReadFile(*fConfig)
		if err != nil {
			return nil, err
		}
	}

	if *fRoot != "" {
		cfg.Storage = config.StorageHost
		cfg.HostRoot = *fRoot
	}

	if *fImage != "" {
		cfg.Image = *fImage
	}

	if *fSuffix != "" {
		cfg.ExecSuffix = *fSuffix
	}

	if *fThreads >= 0 {
		cfg.MaxThreads = *fThreads
	}

	if *fLogLevel != "" {
		cfg.LogLevel = *fLogLevel
	}

	if args := pflag.Args(); len(args) > 0 {
		cfg.Init = args[0]
		cfg.Args = args[1:]
	}

	return cfg, cfg.Validate()
}

func openStore(ctx context.Context, cfg *config.Config) (fs.Store, error) {
	var store fs.Store

	switch cfg.Storage {
	case config.StorageHost:
		hfs, err := host.NewHostFS(cfg.HostRoot)
		if err != nil {
			return nil, err
		}

		store = hfs
	default:
		store = memfs.New()
	}

	if cfg.Image != "" {
		f, err := os.Open(cfg.Image)
		if err != nil {
			return nil, err
		}

		defer f.Close()

		n, err := tarfs.Load(ctx, f, store)
		if err != nil {
			return nil, err
		}

		clog.L.Debug("loaded image", "path", cfg.Image, "files", n)
	}

	err := progs.Install(ctx, store, cfg.ExecSuffix)
	if err != nil {
		return nil, err
	}

	return store, nil
}

func dumpConfig(cfg *config.Config, registry *loader.Registry) {
	data, err := cfg.Marshal()
	if err != nil {
		clog.L.Error("error rendering config", "error", err)
		return
	}

	fmt.Fprintf(os.Stderr, "%s", data)
	fmt.Fprintf(os.Stderr, "programs: %s\n", strings.Join(registry.Names(), " "))
}

func main() {
	pflag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	clog.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	registry := loader.NewRegistry()
	progs.Register(registry)

	ld := loader.NewLoader(registry, loader.NewLoaderCache(cfg.LoaderCacheSize))
	ld.Suffix = cfg.ExecSuffix

	scheduler := sched.New(cfg.MaxThreads)

	if *fDump {
		dumpConfig(cfg, registry)
	}

	k, err := kernel.NewKernel(kernel.Options{
		Store:     store,
		Loader:    ld,
		Scheduler: scheduler,
		Stdin:     os.Stdin,
		Stdout:    os.Stdout,
	})
	if err != nil {
		log.Fatal(err)
	}

	k.Invoker = &syscalls.Invoker{
		Kernel: k,
	}

	proc, err := k.InitProcess(ctx, cfg.Init, cfg.Args)
	if err != nil {
		log.Fatal(err)
	}

	err = k.Wait(ctx)
	if err != nil {
		k.Shutdown("interrupted")
	}

	if *fDump {
		fmt.Fprint(os.Stderr, k.Dump())
		fmt.Fprintf(os.Stderr, "threads: %d spawned, %d running\n", scheduler.Spawned(), scheduler.Running())
	}

	select {
	case <-proc.Exited():
		status := proc.ExitStatus()
		clog.L.Debug("init exited", "status", status, "halt", k.HaltReason())
		os.Exit(int(status.Code) & 0xff)
	case <-time.After(time.Second):
		clog.L.Error("init did not exit", "halt", k.HaltReason())
		os.Exit(1)
	}
}
