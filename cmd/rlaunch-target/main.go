// Command rlaunch-target is the target role's binary (spec.md §6.3): it
// accepts controller connections, each served by its own connection
// service under one supervisor, serves the virtual
// disk client.FS exposes against whatever the controller answers, and
// spawns the executable the controller names in its
// launch_executable_request.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"
	"github.com/thejerf/suture/v4"

	"github.com/deplinenoise/rlaunch/client"
	"github.com/deplinenoise/rlaunch/internal/netloop"
	"github.com/deplinenoise/rlaunch/internal/peerconn"
	"github.com/deplinenoise/rlaunch/internal/rlog"
	"github.com/deplinenoise/rlaunch/internal/wire"
	"github.com/deplinenoise/rlaunch/server"
)

type cli struct {
	Address string `default:"0.0.0.0" help:"Address to listen on."`
	Port    int    `default:"7001" help:"Port to listen on."`
	Log     string `default:"" help:"Log facility bits (d,n,i,w,c,p,a,0)."`
}

func main() {
	var c cli
	kong.Parse(&c, kong.Description("rlaunch target: serves a virtual disk and runs what the controller names."))

	logger := rlog.New(rlog.ParseBits(c.Log))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := fmt.Sprintf("%s:%d", c.Address, c.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Consolef("listen %s: %v", addr, err)
		os.Exit(1)
	}
	logger.Infof("listening on %s", addr)

	root := suture.New("rlaunch-target", suture.Spec{PassThroughPanics: true})
	root.Add(&acceptService{ln: ln, sup: root, logger: logger})

	if err := root.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Consolef("supervisor exited: %v", err)
		os.Exit(1)
	}
}

// acceptService is the suture.Service that accepts incoming connections
// and adds one connService per accepted peer to the same supervisor tree,
// the pattern cmd/stdiscosrv's replicationListener and apiSrv use for
// their own accept loops.
type acceptService struct {
	ln     net.Listener
	sup    *suture.Supervisor
	logger *rlog.Logger

	nextIndex uint32
}

func (a *acceptService) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		a.ln.Close()
	}()

	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		a.nextIndex++
		a.logger.Infof("accepted connection from %s", conn.RemoteAddr())
		a.sup.Add(newConnService(conn, a.nextIndex, a.logger))
	}
}

// newConnService wires one accepted net.Conn up to a client.FS (answering
// the controller's filesystem requests) composed with a
// server.LaunchHandler (answering the controller's launch_executable_request),
// and returns the netloop.Service that drives both over the connection.
func newConnService(conn net.Conn, index uint32, logger *rlog.Logger) *netloop.Service {
	var fs *client.FS
	var launch *server.LaunchHandler

	peer := peerconn.New(peerconn.Config{
		Role:     peerconn.RoleTarget,
		Ident:    conn.RemoteAddr().String(),
		Index:    index,
		Identity: peerconn.Identity{PlatformName: "go", NodeName: hostname()},
		Logger:   logger,
		Callbacks: peerconn.Callbacks{
			OnMessage: func(p *peerconn.Peer, msg wire.Message) error {
				if _, ok := msg.(*wire.LaunchExecutableRequest); ok {
					return launch.OnMessage(p, msg)
				}
				return fs.OnMessage(msg)
			},
			OnDisconnected: func(p *peerconn.Peer) { fs.OnDisconnected(p) },
		},
	})
	fs = client.New(peer, logger)
	launch = server.NewLaunchHandler(peer, server.NewExecLauncher(), logger)

	return netloop.New(conn, peer, logger)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "target"
	}
	return h
}
