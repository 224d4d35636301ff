// Package relay delivers opponent turns to waiting clients. Two
// interchangeable strategies implement the same interface: a
// push-style in-process subscription hub and an append-and-poll queue
// riding on the room document's bounded backlog. Combat and lifecycle
// logic never know which one is deployed.
package relay

import (
	"context"

	"github.com/pengpeng/duel-server/internal/room"
)

// Relay publishes match messages to a room's audience and serves
// poll-style drains. Messages are full state snapshots, never deltas:
// both strategies are allowed to drop intermediate messages, so every
// message must stand on its own.
type Relay interface {
	// Publish delivers a message for the room. The message's Seq is
	// assigned by the relay.
	Publish(ctx context.Context, roomID string, msg room.Message) error

	// Drain returns buffered messages with Seq greater than afterSeq,
	// oldest first. Messages older than the retention window are
	// gone; that lossiness is part of the contract.
	Drain(ctx context.Context, roomID string, afterSeq int64) ([]room.Message, error)
}
