// Command rlaunch-controller is the controller role's binary (spec.md
// §6.3): it dials a target, hands it an executable to run, serves that
// target's virtual disk out of -fsroot, and exits with the launched
// program's own result code once the target reports it finished.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/thejerf/suture/v4"

	"github.com/deplinenoise/rlaunch/internal/netloop"
	"github.com/deplinenoise/rlaunch/internal/peerconn"
	"github.com/deplinenoise/rlaunch/internal/rlog"
	"github.com/deplinenoise/rlaunch/internal/wire"
	"github.com/deplinenoise/rlaunch/server"
)

type cli struct {
	Host    string   `arg:"" help:"Target host to connect to."`
	ExePath string   `arg:"" name:"exe-path" help:"Executable path, resolved on the target."`
	Args    []string `arg:"" optional:"" help:"Arguments passed to the launched executable."`

	FSRoot string `default:"." help:"Directory tree exposed to the target as its virtual disk."`
	Port   int    `default:"7001" help:"Target port."`
	Log    string `default:"" help:"Log facility bits (d,n,i,w,c,p,a,0)."`
}

func main() {
	var c cli
	kong.Parse(&c, kong.Description("rlaunch controller: launches a program on a target and serves its files."))

	logger := rlog.New(rlog.ParseBits(c.Log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := fmt.Sprintf("%s:%d", c.Host, c.Port)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		logger.Consolef("dial %s: %v", addr, err)
		os.Exit(1)
	}
	logger.Infof("connected to %s", addr)

	var session *server.ControllerSession
	peer := peerconn.New(peerconn.Config{
		Role:     peerconn.RoleController,
		Ident:    conn.RemoteAddr().String(),
		Identity: peerconn.Identity{PlatformName: "go", NodeName: hostname()},
		Logger:   logger,
		Callbacks: peerconn.Callbacks{
			OnMessage: func(p *peerconn.Peer, msg wire.Message) error { return session.OnMessage(p, msg) },
			OnConnected: func(p *peerconn.Peer) {
				if err := session.RequestLaunch(c.ExePath, strings.Join(c.Args, " ")); err != nil {
					logger.Consolef("couldn't transmit launch request: %v", err)
				}
			},
			OnDisconnected: func(p *peerconn.Peer) { session.OnDisconnected(p) },
		},
	})
	session = server.NewControllerSession(peer, server.NewNativeFileSystem(c.FSRoot), logger)

	sup := suture.New("rlaunch-controller", suture.Spec{PassThroughPanics: true})
	sup.Add(netloop.New(conn, peer, logger))

	supCtx, cancelSup := context.WithCancel(ctx)
	defer cancelSup()
	supErr := make(chan error, 1)
	go func() { supErr <- sup.Serve(supCtx) }()

	go func() {
		if err := <-session.LaunchResult(); err != nil {
			logger.Consolef("target rejected launch request: %v", err)
		}
	}()

	var exitCode int
	select {
	case code := <-session.Done():
		exitCode = int(code)
		cancelSup()
		<-supErr
	case <-ctx.Done():
		exitCode = 1
		cancelSup()
		<-supErr
	case err := <-supErr:
		logger.Consolef("connection lost before the executable finished: %v", err)
		exitCode = 1
	}

	os.Exit(exitCode)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "controller"
	}
	return h
}
