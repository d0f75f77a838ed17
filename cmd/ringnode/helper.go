package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"ringcoord/configs"
	"ringcoord/internal/control"
	"ringcoord/internal/coordinator"
	"ringcoord/internal/ringaddr"
	"ringcoord/internal/rpcx"
	"ringcoord/internal/util"
)

func initGlobalLogger(settingsPath string, settings configs.Settings) {
	baseDir := "."
	if settingsPath != "" {
		baseDir = filepath.Dir(settingsPath)
	}
	if !settings.Logger.Enabled {
		util.SetGlobalLogger(nil)
		return
	}
	l, err := util.NewDailyFileLogger(util.DailyFileLoggerOptions{
		BaseDir:    baseDir,
		Dir:        settings.Logger.Dir,
		Extension:  settings.Logger.Extension,
		Prefix:     settings.Logger.Prefix,
		MinLevel:   util.ParseLogLevel(settings.Logger.Level),
		Stdout:     settings.Logger.Stdout,
		TimeFormat: settings.Logger.TimeFormat,
	})
	if err != nil {
		log.Printf("init file logger failed: %v", err)
		return
	}
	util.SetGlobalLogger(l)
}

// buildNode wires the transport, coordinator and control surface for one
// node. Split out of main so the launch contract in main.go stays
// readable end to end.
func buildNode(self ringaddr.Addr, resourceName string, settings configs.Settings) (*coordinator.Node, *control.Server, error) {
	transport := rpcx.NewClientManager(self, settings.ArtificialDelay(), settings.RPCTimeout(), util.L())
	node := coordinator.NewNode(self, resourceName, transport, util.L())
	srv := control.NewServer(node, util.L())
	return node, srv, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
