package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/spf13/cobra"

	"github.com/yourusername/cachefs/internal/cachefs"
	"github.com/yourusername/cachefs/internal/config"
	"github.com/yourusername/cachefs/internal/reportsink"
)

var mountConfiguration struct {
	configPath string
	mountpoint string
	sourceRoot string
	cacheRoot  string
	allowOther bool
	debug      bool
	logFile    string
	statsFile  string
}

var mountCommand = &cobra.Command{
	Use:   "mount <mountpoint>",
	Short: "Mount the cache filesystem at <mountpoint>",
	Args:  cobra.ExactArgs(1),
	RunE:  runMount,
}

func init() {
	flags := mountCommand.Flags()
	flags.StringVar(&mountConfiguration.configPath, "config", "", "Path to a YAML configuration file")
	flags.StringVar(&mountConfiguration.sourceRoot, "source", "", "Source directory (overrides config)")
	flags.StringVar(&mountConfiguration.cacheRoot, "cache", "", "Cache directory (overrides config)")
	flags.BoolVar(&mountConfiguration.allowOther, "allow-other", false, "Allow other users to access the mount")
	flags.BoolVar(&mountConfiguration.debug, "debug", false, "Enable FUSE debug logging")
	flags.StringVar(&mountConfiguration.logFile, "log-file", "", "Rotating event log path")
	flags.StringVar(&mountConfiguration.statsFile, "stats-file", "", "Save statistics to this JSON file on exit")
}

func loadConfiguration() (config.Config, error) {
	cfg := config.Default()
	if mountConfiguration.configPath != "" {
		loaded, err := config.Load(mountConfiguration.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if mountConfiguration.sourceRoot != "" {
		cfg.SourceRoot = mountConfiguration.sourceRoot
	}
	if mountConfiguration.cacheRoot != "" {
		cfg.CacheRoot = mountConfiguration.cacheRoot
	}
	return cfg, nil
}

func runMount(cmd *cobra.Command, args []string) error {
	mountConfiguration.mountpoint = args[0]

	cfg, err := loadConfiguration()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	preloadFilter, cleanIgnore, err := cfg.Validate()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.CacheRoot, 0o755); err != nil {
		return fmt.Errorf("create cache root: %w", err)
	}
	if err := os.MkdirAll(mountConfiguration.mountpoint, 0o755); err != nil {
		return fmt.Errorf("create mountpoint: %w", err)
	}

	core := cachefs.New(cfg, preloadFilter, cleanIgnore)

	consoleSink := reportsink.NewSink(core.Bus, nil)

	if mountConfiguration.logFile != "" {
		fileSink, err := reportsink.NewRotatingFileSink(mountConfiguration.logFile, core.Bus)
		if err != nil {
			log.Printf("cachefsd: failed to open event log: %v", err)
		} else {
			defer fileSink.Close()
		}
	}

	entryTimeout := time.Second
	opts := &fs.Options{
		AttrTimeout:  &entryTimeout,
		EntryTimeout: &entryTimeout,
		MountOptions: fuse.MountOptions{
			AllowOther: mountConfiguration.allowOther,
			FsName:     "cachefs",
			Debug:      mountConfiguration.debug,
		},
	}

	server, err := fs.Mount(mountConfiguration.mountpoint, cachefs.NewRoot(core), opts)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}

	core.Start()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		server.Wait()
		close(done)
	}()

	log.Printf("cachefsd: mounted %s over %s (cache: %s)", mountConfiguration.mountpoint, cfg.SourceRoot, cfg.CacheRoot)

	for {
		select {
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1, syscall.SIGHUP:
				log.Println("cachefsd: signal received, running cache sweep")
				core.CleanNow()
			default:
				log.Println("cachefsd: signal received, unmounting")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := core.Stop(ctx); err != nil {
					log.Printf("cachefsd: stop did not drain cleanly: %v", err)
				}
				cancel()
				server.Unmount()
				<-done
				return finish(consoleSink)
			}
		case <-done:
			return finish(consoleSink)
		}
	}
}

func finish(sink *reportsink.Sink) error {
	st := sink.Stats()
	fmt.Fprintf(os.Stdout, "cachefsd: %d hits, %d misses (%.1f%% hit rate), %d cached, %d evicted\n",
		st.Hits, st.Misses, st.HitRate(), st.Cached, st.Uncached)
	if mountConfiguration.statsFile != "" {
		if err := st.SaveJSON(mountConfiguration.statsFile); err != nil {
			log.Printf("cachefsd: failed to save statistics: %v", err)
		}
	}
	return nil
}
