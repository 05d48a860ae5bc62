package vm

import "github.com/google/uuid"

// ---------------------------------------------------------------------------
// Channels
// ---------------------------------------------------------------------------

// OperationID identifies an externally driven channel operation.
type OperationID = uuid.UUID

// performer is the party a pending channel operation belongs to:
// either a fiber parked on the operation, an external operation, or
// nobody (internal sends that need no completion).
type performer struct {
	kind     performerKind
	fiber    FiberID
	external OperationID
}

type performerKind uint8

const (
	performerFiber performerKind = iota
	performerExternal
	performerNone
)

func fiberPerformer(id FiberID) performer {
	return performer{kind: performerFiber, fiber: id}
}

func externalPerformer(id OperationID) performer {
	return performer{kind: performerExternal, external: id}
}

func nonePerformer() performer {
	return performer{kind: performerNone}
}

// channelCompleter resumes the performer of a finished operation.
type channelCompleter interface {
	completeSend(p performer)
	completeReceive(p performer, packet Packet)
}

// Channel is a bounded FIFO of packets, owned by the scheduler. A
// capacity of zero makes the channel a rendezvous point: sends and
// receives complete only in matching pairs.
type Channel struct {
	id       ChannelID
	capacity int

	buffer          []Packet
	pendingSends    []pendingSend
	pendingReceives []performer

	// refCount is the number of heaps that currently hold port values
	// for this channel. The scheduler destroys the channel when it
	// drops to zero.
	refCount int
}

type pendingSend struct {
	performer performer
	packet    Packet
}

func newChannel(id ChannelID, capacity int) *Channel {
	if capacity < 0 {
		panic("vm: negative channel capacity")
	}
	return &Channel{id: id, capacity: capacity}
}

// ID returns the channel's identity.
func (c *Channel) ID() ChannelID { return c.id }

// Capacity returns the channel's buffer capacity.
func (c *Channel) Capacity() int { return c.capacity }

// send offers a packet. It either hands the packet directly to a
// waiting receiver, buffers it, or parks the sender.
func (c *Channel) send(completer channelCompleter, p performer, packet Packet) {
	if len(c.pendingReceives) > 0 && len(c.buffer) == 0 {
		receiver := c.pendingReceives[0]
		c.pendingReceives = c.pendingReceives[1:]
		completer.completeSend(p)
		completer.completeReceive(receiver, packet)
		return
	}
	if len(c.buffer) < c.capacity {
		c.buffer = append(c.buffer, packet)
		completer.completeSend(p)
		return
	}
	c.pendingSends = append(c.pendingSends, pendingSend{performer: p, packet: packet})
}

// receive takes a packet. It either drains the buffer (letting a
// parked sender move up), pairs directly with a parked sender on a
// rendezvous channel, or parks the receiver.
func (c *Channel) receive(completer channelCompleter, p performer) {
	if len(c.buffer) > 0 {
		packet := c.buffer[0]
		c.buffer = c.buffer[1:]
		if len(c.pendingSends) > 0 {
			next := c.pendingSends[0]
			c.pendingSends = c.pendingSends[1:]
			c.buffer = append(c.buffer, next.packet)
			completer.completeSend(next.performer)
		}
		completer.completeReceive(p, packet)
		return
	}
	if len(c.pendingSends) > 0 {
		// Rendezvous: capacity is zero, pair sender and receiver.
		next := c.pendingSends[0]
		c.pendingSends = c.pendingSends[1:]
		completer.completeSend(next.performer)
		completer.completeReceive(p, next.packet)
		return
	}
	c.pendingReceives = append(c.pendingReceives, p)
}

// drainBuffered returns and clears the buffered packets and the
// packets of parked senders; used when the channel is destroyed.
func (c *Channel) drainBuffered() []Packet {
	packets := c.buffer
	c.buffer = nil
	for _, send := range c.pendingSends {
		packets = append(packets, send.packet)
	}
	c.pendingSends = nil
	c.pendingReceives = nil
	return packets
}
