package peerconn

import "github.com/pkg/errors"

// errNotConnected is returned by TransmitMessage when called outside
// StateConnected (e.g. during handshake or after an error/disconnect).
var errNotConnected = errors.New("peerconn: peer is not connected")
