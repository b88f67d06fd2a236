package transport

import "github.com/pkg/errors"

// errOversizeFrame is the sticky error set when a peer declares a frame
// length that can never fit in the configured inbound buffer (spec.md
// §4.2: "messages larger than the buffer can never be received").
var errOversizeFrame = errors.New("transport: frame exceeds inbound buffer capacity")
