package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Kighlander1975/dbe-exercise-file-upload/config"
	"github.com/Kighlander1975/dbe-exercise-file-upload/logging"
	"github.com/Kighlander1975/dbe-exercise-file-upload/uploads"
)

// Version information (set at build time)
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		showVersion bool
		configPath  string
		uploadDir   string
		treeRoot    string
		port        string
		writeMode   bool
		logLevel    string
	)
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
	flag.StringVar(&configPath, "config", "", "Path to a YAML config file (optional)")
	flag.StringVar(&uploadDir, "path", "./uploads", "Directory uploads are stored in and served from")
	flag.StringVar(&treeRoot, "tree-root", "", "Directory the navigation tree starts at (default: filesystem root)")
	flag.StringVar(&port, "port", "8080", "Port to listen on")
	flag.BoolVar(&writeMode, "write", true, "Accept uploads (set -write=false for a read-only browser)")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	if showVersion {
		fmt.Printf("file-upload version %s\n", version)
		fmt.Printf("Build date: %s\n", buildDate)
		fmt.Printf("Git commit: %s\n", gitCommit)
		return
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// explicit flags win over the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "path":
			cfg.Server.UploadDir = uploadDir
		case "tree-root":
			cfg.Browse.TreeRoot = treeRoot
		case "port":
			cfg.Server.Port = port
		case "write":
			cfg.Server.WriteMode = writeMode
		case "log-level":
			cfg.Logging.Level = logLevel
		}
	})

	if err := logging.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()
	logger := logging.L()

	absPath, err := filepath.Abs(cfg.Server.UploadDir)
	if err != nil {
		logger.Fatal("invalid upload path", zap.Error(err))
	}
	cfg.Server.UploadDir = absPath

	if err := cfg.Prepare(); err != nil {
		logger.Fatal("failed to prepare directories", zap.Error(err))
	}

	store, err := uploads.OpenStore(cfg.DBFile())
	if err != nil {
		logger.Fatal("failed to open upload database", zap.String("path", cfg.DBFile()), zap.Error(err))
	}

	srv, err := newServer(cfg, store)
	if err != nil {
		store.Close()
		logger.Fatal("failed to set up server", zap.Error(err))
	}
	app := srv.newApp()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if srv.tus != nil {
		go srv.tus.Run(ctx)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("upload_dir", cfg.Server.UploadDir),
			zap.String("tree_root", cfg.Browse.TreeRoot),
			zap.Bool("write", cfg.Server.WriteMode),
			zap.String("version", version),
		)
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			logger.Error("server error", zap.Error(err))
			sigChan <- syscall.SIGTERM
		}
	}()

	<-sigChan
	logger.Info("shutting down, waiting for in-progress uploads")

	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	cancel()
	srv.uploads.Wait()

	if err := store.Close(); err != nil {
		logger.Warn("failed to close upload database", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
