package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fabtsuite/fabtsuite/internal/constants"
	"github.com/fabtsuite/fabtsuite/internal/fabric"
	"github.com/fabtsuite/fabtsuite/internal/terminal"
	"github.com/fabtsuite/fabtsuite/internal/wire"
)

// msgHandshake tags the one-off initial/ack exchange buffers; it never
// appears in a session's steady-state completion dispatch (spec §6.2).
const msgHandshake fabric.MsgType = -1

// Config bundles the connection-setup knobs both personalities share
// (spec §6.3 CLI flags).
type Config struct {
	BindAddr   string // "-b" passive listen address (ListenGet)
	PeerAddr   string // positional peer address (DialPut)
	MRMode     MRMode
	RMAMaxSegs int // 1 in contiguous (-g) mode
	BufCount   int // payload buffers to pre-fill the session with
	Repeats    int // reference-text repeat count (spec §2)

	// Metrics, if non-nil, receives this session's counter updates.
	// Left nil, the session reports into a no-op sink.
	Metrics Metrics
}

// withDefaults fills in zero-valued knobs the same way the CLI's
// DefaultParams would (spec §6.3).
func (c Config) withDefaults() Config {
	if c.RMAMaxSegs <= 0 {
		c.RMAMaxSegs = constants.DefaultRMAMaxSegs
	}
	if c.BufCount <= 0 {
		c.BufCount = constants.DefaultFIFOCapacity
	}
	if c.Repeats <= 0 {
		c.Repeats = terminal.DefaultRepeats
	}
	return c
}

// DialPut actively connects to cfg.PeerAddr, performs the transmitter
// side of the initial/ack handshake, and returns a Transmitter ready to
// be driven by a worker (spec §4.5 "On first entry", §6.2).
func DialPut(ctx context.Context, dom fabric.Domain, cfg Config) (*Transmitter, error) {
	cfg = cfg.withDefaults()

	ep, err := dom.NewEndpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: dial_put: creating endpoint: %w", err)
	}

	bootstrap, err := ep.Connect(ctx, []byte(cfg.PeerAddr))
	if err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: dial_put: connect: %w", err)
	}
	if err := ep.EQ().ReadConnected(ctx); err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: dial_put: awaiting connected event: %w", err)
	}

	nonce, err := uuid.NewRandom()
	if err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: dial_put: generating nonce: %w", err)
	}

	local := ep.LocalAddr()
	init := &wire.Initial{NSources: 1, AddrLen: uint32(len(local))}
	copy(init.Nonce[:], nonce[:])
	copy(init.Addr[:], local)

	ackBuf := make([]byte, wire.AckSize)
	ackCtx := &fabric.Context{Type: msgHandshake}
	if err := ep.Recv(ackBuf, ackCtx); err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: dial_put: posting ack recv: %w", err)
	}

	sendCtx := &fabric.Context{Type: msgHandshake}
	if err := ep.Send(wire.EncodeInitial(init), bootstrap, sendCtx); err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: dial_put: sending initial: %w", err)
	}
	if err := awaitHandshake(ctx, ep, sendCtx, ackCtx); err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: dial_put: handshake: %w", err)
	}

	ack, err := wire.DecodeAck(ackBuf)
	if err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: dial_put: decoding ack: %w", err)
	}

	peer, err := ep.AV().Insert(ack.Addr[:ack.AddrLen])
	if err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: dial_put: inserting ack-returned peer: %w", err)
	}
	if err := ep.AV().Remove(bootstrap); err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: dial_put: removing bootstrap peer: %w", err)
	}

	src := terminal.NewSource(cfg.Repeats)
	tx, err := NewTransmitter(ep, peer, src, cfg.MRMode, cfg.RMAMaxSegs, cfg.BufCount)
	if err != nil {
		return nil, err
	}
	if cfg.Metrics != nil {
		tx.SetMetrics(cfg.Metrics)
	}
	return tx, nil
}

// ListenGet passively binds cfg.BindAddr, accepts the first inbound
// connection request, performs the receiver side of the initial/ack
// handshake, and returns a Receiver ready to be driven by a worker
// (spec §4.4 "On first entry", §6.2).
func ListenGet(ctx context.Context, dom fabric.Domain, cfg Config) (*Receiver, error) {
	cfg = cfg.withDefaults()

	ep, err := dom.NewEndpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: listen_get: creating endpoint: %w", err)
	}
	if err := ep.Listen(ctx, cfg.BindAddr); err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: listen_get: listen: %w", err)
	}

	req, err := ep.EQ().ReadConnReq(ctx)
	if err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: listen_get: awaiting connection request: %w", err)
	}
	bootstrap, err := ep.Accept(ctx, req)
	if err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: listen_get: accept: %w", err)
	}

	initBuf := make([]byte, wire.InitialSize)
	initCtx := &fabric.Context{Type: msgHandshake}
	if err := ep.Recv(initBuf, initCtx); err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: listen_get: posting initial recv: %w", err)
	}
	if err := awaitHandshake(ctx, ep, nil, initCtx); err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: listen_get: awaiting initial: %w", err)
	}

	init, err := wire.DecodeInitial(initBuf)
	if err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: listen_get: decoding initial: %w", err)
	}

	peer, err := ep.AV().Insert(init.Addr[:init.AddrLen])
	if err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: listen_get: inserting peer from initial: %w", err)
	}

	local := ep.LocalAddr()
	ack := &wire.Ack{AddrLen: uint32(len(local))}
	copy(ack.Addr[:], local)

	ackSentCtx := &fabric.Context{Type: msgHandshake}
	if err := ep.Send(wire.EncodeAck(ack), peer, ackSentCtx); err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: listen_get: sending ack: %w", err)
	}
	if err := awaitHandshake(ctx, ep, ackSentCtx, nil); err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: listen_get: confirming ack send: %w", err)
	}
	if err := ep.AV().Remove(bootstrap); err != nil {
		ep.Close()
		return nil, fmt.Errorf("session: listen_get: removing bootstrap peer: %w", err)
	}

	sink := terminal.NewSink(cfg.Repeats)
	r, err := NewReceiver(ep, peer, sink, cfg.MRMode, cfg.BufCount)
	if err != nil {
		return nil, err
	}
	if cfg.Metrics != nil {
		r.SetMetrics(cfg.Metrics)
	}
	return r, nil
}

// awaitHandshake blocks, interruptibly via ctx, until every non-nil
// context among wantSend/wantRecv has a matching completion on ep's CQ
// (spec §5 "handshake paths ... block with an infinite deadline,
// interruptible by signal"). Completions for contexts this call isn't
// waiting on are not expected to occur on a freshly built endpoint, so
// any such arrival is treated as a protocol error.
func awaitHandshake(ctx context.Context, ep fabric.Endpoint, wantSend, wantRecv *fabric.Context) error {
	pending := 0
	if wantSend != nil {
		pending++
	}
	if wantRecv != nil {
		pending++
	}
	for pending > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		cmpls, err := ep.CQ().Read(1)
		if err != nil {
			return err
		}
		if len(cmpls) == 0 {
			time.Sleep(constants.HandshakePollInterval)
			continue
		}
		cmpl := cmpls[0]
		switch cmpl.Ctx {
		case wantSend:
			if cmpl.Err != nil {
				return fmt.Errorf("session: handshake send failed: %w", cmpl.Err)
			}
			wantSend = nil
			pending--
		case wantRecv:
			if cmpl.Err != nil {
				return fmt.Errorf("session: handshake recv failed: %w", cmpl.Err)
			}
			wantRecv = nil
			pending--
		default:
			return fmt.Errorf("session: unexpected completion during handshake")
		}
	}
	return nil
}
