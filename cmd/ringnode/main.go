package main

import (
	"log"
	"net"
	"os"
	"strconv"

	"ringcoord/configs"
	"ringcoord/internal/ringaddr"
	"ringcoord/internal/rpcx"
	"ringcoord/internal/util"
)

// ringnode launch contract: <binary> <ip> <rpc_port> <resource_name> [settings.toml]

func main() {
	if len(os.Args) < 4 {
		log.Fatalf("usage: %s <ip> <rpc_port> <resource_name> [settings.toml]", os.Args[0])
	}
	ip := os.Args[1]
	port, err := strconv.Atoi(os.Args[2])
	if err != nil {
		log.Fatalf("invalid rpc_port %q: %v", os.Args[2], err)
	}
	resourceName := os.Args[3]

	settingsPath := ""
	if len(os.Args) > 4 {
		settingsPath = os.Args[4]
	}

	settings, err := configs.ReadSettings(settingsPath)
	if err != nil {
		log.Fatalf("read settings failed: %v", err)
	}

	initGlobalLogger(settingsPath, settings)

	self := ringaddr.New(ip, port)
	node, server, err := buildNode(self, resourceName, settings)
	if err != nil {
		log.Fatalf("build node failed: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	rpcListener, err := net.Listen("tcp", self.String())
	if err != nil {
		log.Fatalf("listen rpc %s: %v", self, err)
	}
	go func() {
		<-ctx.Done()
		_ = rpcListener.Close()
	}()
	go func() {
		if err := rpcx.Serve(rpcListener, node, util.L()); err != nil {
			util.L().Warnf("rpc server stopped: %v", err)
		}
	}()

	util.L().Infof("ringnode %s starting, owns resource %q", self, resourceName)
	if err := server.Start(ctx, self.ControlAddr()); err != nil {
		log.Fatalf("control server error: %v", err)
	}
}

