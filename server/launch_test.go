package server_test

import (
	"errors"
	"testing"

	"github.com/deplinenoise/rlaunch/client"
	"github.com/deplinenoise/rlaunch/internal/peerconn"
	"github.com/deplinenoise/rlaunch/internal/wire"
	"github.com/deplinenoise/rlaunch/server"
)

// fakeLauncher is a server.ProcessLauncher stub: Launch either fails
// synchronously (spawnErr) or stashes onDone for the test to invoke later,
// the way a real process's exit would.
type fakeLauncher struct {
	spawnErr error
	onDone   func(resultCode uint32)
}

func (f *fakeLauncher) Launch(path, arguments string, onDone func(resultCode uint32)) error {
	if f.spawnErr != nil {
		return f.spawnErr
	}
	f.onDone = onDone
	return nil
}

// newLaunchTestStack wires a server.ControllerSession (controller side)
// against a server.LaunchHandler plus client.FS (target side), linked in
// memory exactly as cmd/rlaunch-controller and cmd/rlaunch-target link them
// over a real TCP socket.
func newLaunchTestStack(t *testing.T, pl server.ProcessLauncher) (*server.ControllerSession, *link) {
	t.Helper()

	var fs *client.FS
	var launch *server.LaunchHandler
	tgt := peerconn.New(peerconn.Config{
		Role:     peerconn.RoleTarget,
		Ident:    "target",
		Identity: peerconn.Identity{PlatformName: "amiga", NodeName: "a4000"},
		Callbacks: peerconn.Callbacks{
			OnMessage: func(p *peerconn.Peer, msg wire.Message) error {
				if _, ok := msg.(*wire.LaunchExecutableRequest); ok {
					return launch.OnMessage(p, msg)
				}
				return fs.OnMessage(msg)
			},
		},
	})
	fs = client.New(tgt, nil)
	launch = server.NewLaunchHandler(tgt, pl, nil)

	var session *server.ControllerSession
	ctrl := peerconn.New(peerconn.Config{
		Role:     peerconn.RoleController,
		Ident:    "controller",
		Identity: peerconn.Identity{PlatformName: "linux", NodeName: "ctrlhost"},
		Callbacks: peerconn.Callbacks{
			OnMessage: func(p *peerconn.Peer, msg wire.Message) error { return session.OnMessage(p, msg) },
		},
	})
	session = server.NewControllerSession(ctrl, server.NewNativeFileSystem(t.TempDir()), nil)

	l := &link{a: ctrl, b: tgt}
	l.pump()
	return session, l
}

// TestLaunchAndExecutableDoneRoundTrip drives spec.md §8 Scenario 1 end to
// end: RequestLaunch's launch_executable_request, the target's
// launch_executable_answer, and the later executable_done_request that
// resolves Dispatcher.Done().
func TestLaunchAndExecutableDoneRoundTrip(t *testing.T) {
	pl := &fakeLauncher{}
	session, l := newLaunchTestStack(t, pl)

	if err := session.RequestLaunch("prog", "arg1 arg2"); err != nil {
		t.Fatalf("request launch: %v", err)
	}
	l.pump()

	select {
	case err := <-session.LaunchResult():
		if err != nil {
			t.Fatalf("launch rejected: %v", err)
		}
	default:
		t.Fatal("expected a launch result after pumping the link")
	}

	if pl.onDone == nil {
		t.Fatal("ProcessLauncher.Launch was never called")
	}
	pl.onDone(7)
	l.pump()

	select {
	case code := <-session.Done():
		if code != 7 {
			t.Fatalf("got result code %d, want 7", code)
		}
	default:
		t.Fatal("expected Dispatcher.Done() to fire after pumping executable_done_request")
	}
}

// TestLaunchSpawnFailureReportedAsError covers the other half of Scenario
// 1: a ProcessLauncher that can't even start reports launch_executable's
// error_answer{Code: ErrSpawnFailure} back to the controller, and never
// reaches Done().
func TestLaunchSpawnFailureReportedAsError(t *testing.T) {
	pl := &fakeLauncher{spawnErr: errors.New("exec: no such file")}
	session, l := newLaunchTestStack(t, pl)

	if err := session.RequestLaunch("missing-program", ""); err != nil {
		t.Fatalf("request launch: %v", err)
	}
	l.pump()

	select {
	case err := <-session.LaunchResult():
		wireErr, ok := err.(*wire.WireError)
		if !ok {
			t.Fatalf("got %T, want *wire.WireError", err)
		}
		if wireErr.Code != wire.ErrSpawnFailure {
			t.Fatalf("got code %v, want ErrSpawnFailure", wireErr.Code)
		}
	default:
		t.Fatal("expected a launch result after pumping the link")
	}

	select {
	case code := <-session.Done():
		t.Fatalf("Done() fired with %d after a spawn failure, want no signal", code)
	default:
	}
}
