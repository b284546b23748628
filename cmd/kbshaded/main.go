package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kbshade/kbshade/internal/activity"
	"github.com/kbshade/kbshade/internal/backlight"
	"github.com/kbshade/kbshade/internal/config"
	"github.com/kbshade/kbshade/internal/daemon"
	"github.com/kbshade/kbshade/internal/ipc"
	"github.com/kbshade/kbshade/internal/logging"
	"github.com/kbshade/kbshade/internal/sessiondir"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "kbshaded",
	Short: "Keyboard backlight idle daemon",
	Long:  `kbshaded fades the keyboard backlight out when the active session goes idle and back in on the first key press.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the daemon",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running daemon's state",
	Run: func(cmd *cobra.Command, args []string) {
		showStatus()
	},
}

var wakeCmd = &cobra.Command{
	Use:   "wake",
	Short: "Fade the backlight back on",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.TypeWake)
	},
}

var dimCmd = &cobra.Command{
	Use:   "dim",
	Short: "Fade the backlight off now",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.TypeDim)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kbshaded v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/kbshade/kbshade.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(wakeCmd)
	rootCmd.AddCommand(dimCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)
	log := logging.L("main")
	cfg.Validate()

	logind, err := sessiondir.ConnectLogind()
	if err != nil {
		log.Error("connecting to the system bus failed", logging.KeyError, err)
		os.Exit(1)
	}
	defer logind.Close()

	d := daemon.New(cfg, daemon.Deps{
		Device:  backlight.NewSysfsDevice(cfg.BrightnessFile(), cfg.ColorFile()),
		Manager: sessiondir.NewLoginctlManager(),
		Bus:     logind,
		Procs:   sessiondir.GopsutilIndex{},
		Input:   activity.XInputSource{},
		Version: version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		log.Error("daemon exited", logging.KeyError, err)
		os.Exit(1)
	}
}

func initLogging(cfg *config.Config) {
	if cfg.LogFile == "" {
		logging.Init(cfg.LogFormat, cfg.LogLevel, nil)
		return
	}
	w, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		logging.Init(cfg.LogFormat, cfg.LogLevel, nil)
		return
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, w)
}

func showStatus() {
	cfg := loadOrDefault()
	status, err := ipc.RequestStatus(cfg.SocketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Daemon not reachable: %v\n", err)
		os.Exit(1)
	}

	stateWord := "on"
	if status.BacklightOff {
		stateWord = "off"
	}
	if status.Fading {
		stateWord += " (fading)"
	}
	fmt.Printf("Backlight: %s\n", stateWord)
	fmt.Printf("Brightness: %d (saved %d)\n", status.Brightness, status.SavedBrightness)
	if status.WatchedSession != "" {
		fmt.Printf("Watching: session %s\n", status.WatchedSession)
	}
	for _, s := range status.Sessions {
		fmt.Printf("Session %s: user=%s seat=%s display=%s\n", s.ID, s.User, s.Seat, s.Display)
	}
	for _, h := range status.Health {
		if h.Detail != "" {
			fmt.Printf("Health %s: %s (%s)\n", h.Component, h.Status, h.Detail)
		} else {
			fmt.Printf("Health %s: %s\n", h.Component, h.Status)
		}
	}
	fmt.Printf("Version: %s, up %ds\n", status.Version, status.UptimeSeconds)
}

func sendCommand(msgType string) {
	cfg := loadOrDefault()
	if _, err := ipc.Request(cfg.SocketPath, msgType); err != nil {
		fmt.Fprintf(os.Stderr, "Daemon not reachable: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func loadOrDefault() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = config.Default()
	}
	return cfg
}
