package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"sync"

	"github.com/Showmax/go-fqdn"
	"github.com/quic-go/quic-go"

	"github.com/fiberfleet/distrun/internal/base"
)

// wireProtocol identifies this module's QUIC ALPN, grounded on
// cluster/tunnel.go's TUNNEL_QUIC_PROTOCOL.
const wireProtocol = "quic-distrun-fiberfleet"

// compressThreshold is the smallest frame body compression is attempted
// on; small frames are not worth the round trip through base's lz4
// writer/reader, grounded on cluster/message.go batching output before
// flush rather than compressing every write.
const compressThreshold = 512

// QUICGroup is a real multi-process Group over QUIC, one bidirectional
// stream per ordered pair of ranks: rank i dials rank j for every j > i
// and rank j accepts it, so every pair of ranks ends up connected exactly
// once. Grounded on cluster/worker.go's quic.ListenAddr accept loop and
// cluster/client.go/tunnel.go's quic.DialAddr + OpenStreamSync dial path,
// restructured from the teacher's asymmetric client/worker roles into a
// symmetric full mesh. IBarrier is implemented by gossiping a reserved
// control tag across the same streams, the way cluster/message.go
// interleaves ping control messages with payload messages on one tunnel.
type QUICGroup struct {
	rank   int
	roster Roster

	listener *quic.Listener

	mu      sync.Mutex
	streams map[int]quic.Stream
	conns   map[int]quic.Connection

	inboxMu sync.Mutex
	inbox   chan inboundMsg
	pending *inboundMsg

	barrierMu      sync.Mutex
	barrierArrived map[int]bool
	barrierDone    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQUICGroup listens on roster[rank], then dials every higher rank and
// accepts a connection from every lower rank, blocking until the full
// mesh is established.
func NewQUICGroup(ctx context.Context, rank int, roster Roster) (*QUICGroup, error) {
	if rank < 0 || rank >= len(roster) {
		return nil, fmt.Errorf("transport: rank %d out of range for a roster of size %d", rank, len(roster))
	}

	listener, err := quic.ListenAddr(roster[rank], generateServerTLSConfig(), nil)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %q: %w", roster[rank], err)
	}

	groupCtx, cancel := context.WithCancel(ctx)
	g := &QUICGroup{
		rank:           rank,
		roster:         roster,
		listener:       listener,
		streams:        make(map[int]quic.Stream),
		conns:          make(map[int]quic.Connection),
		inbox:          make(chan inboundMsg, 256),
		barrierArrived: make(map[int]bool),
		barrierDone:    make(chan struct{}),
		ctx:            groupCtx,
		cancel:         cancel,
	}

	base.LogInfo(LogTransport, "rank %d listening on %s (%s)", rank, roster[rank], selfFQDN())

	numLower := rank
	g.wg.Add(numLower)
	for i := 0; i < numLower; i++ {
		go g.acceptOne()
	}

	for j := rank + 1; j < len(roster); j++ {
		if err := g.dial(groupCtx, j); err != nil {
			cancel()
			return nil, err
		}
	}

	g.wg.Wait() // every lower rank has connected
	return g, nil
}

func (g *QUICGroup) acceptOne() {
	defer g.wg.Done()
	conn, err := g.listener.Accept(g.ctx)
	if err != nil {
		base.LogError(LogTransport, "transport: accept failed: %v", err)
		return
	}
	stream, err := conn.AcceptStream(g.ctx)
	if err != nil {
		base.LogError(LogTransport, "transport: accept stream failed: %v", err)
		return
	}

	peer, err := readHandshake(stream)
	if err != nil {
		base.LogError(LogTransport, "transport: handshake failed: %v", err)
		return
	}

	g.mu.Lock()
	g.streams[peer] = stream
	g.conns[peer] = conn
	g.mu.Unlock()

	g.wg.Add(1)
	go g.readLoop(peer, stream)
}

func (g *QUICGroup) dial(ctx context.Context, peer int) error {
	conn, err := quic.DialAddr(ctx, g.roster[peer], generateClientTLSConfig(), nil)
	if err != nil {
		return fmt.Errorf("transport: dial rank %d at %q: %w", peer, g.roster[peer], err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("transport: open stream to rank %d: %w", peer, err)
	}
	if err := writeHandshake(stream, g.rank); err != nil {
		return fmt.Errorf("transport: handshake with rank %d: %w", peer, err)
	}

	g.mu.Lock()
	g.streams[peer] = stream
	g.conns[peer] = conn
	g.mu.Unlock()

	g.wg.Add(1)
	go g.readLoop(peer, stream)
	return nil
}

func (g *QUICGroup) Rank() int { return g.rank }
func (g *QUICGroup) Size() int { return len(g.roster) }

func (g *QUICGroup) Send(ctx context.Context, dest int, tag int32, payload []byte) SendHandle {
	if dest == g.rank {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		h := &chanHandle{done: make(chan struct{})}
		go func() {
			defer close(h.done)
			select {
			case g.inbox <- inboundMsg{src: g.rank, tag: tag, payload: cp}:
			case <-ctx.Done():
				h.err = ctx.Err()
			case <-g.ctx.Done():
				h.err = errGroupClosed
			}
		}()
		return h
	}
	if err := validateRank(dest, g.Size()); err != nil {
		return newDoneHandle(err)
	}

	g.mu.Lock()
	stream, ok := g.streams[dest]
	g.mu.Unlock()
	if !ok {
		return newDoneHandle(fmt.Errorf("transport: no established stream to rank %d", dest))
	}

	h := &chanHandle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.err = writeFrame(stream, tag, payload)
	}()
	return h
}

func (g *QUICGroup) Probe(ctx context.Context) (src int, tag int32, n int, ok bool) {
	g.inboxMu.Lock()
	if g.pending != nil {
		m := g.pending
		g.inboxMu.Unlock()
		return m.src, m.tag, len(m.payload), true
	}
	g.inboxMu.Unlock()

	// See Loopback.Probe: check immediately before racing against ctx.Done
	// so an already-expired ctx (the comm loop's non-blocking poll) still
	// observes a message that is already queued.
	select {
	case msg := <-g.inbox:
		g.inboxMu.Lock()
		g.pending = &msg
		g.inboxMu.Unlock()
		return msg.src, msg.tag, len(msg.payload), true
	default:
	}
	if ctx.Err() != nil {
		return 0, 0, 0, false
	}

	select {
	case msg := <-g.inbox:
		g.inboxMu.Lock()
		g.pending = &msg
		g.inboxMu.Unlock()
		return msg.src, msg.tag, len(msg.payload), true
	case <-ctx.Done():
		return 0, 0, 0, false
	case <-g.ctx.Done():
		return 0, 0, 0, false
	}
}

func (g *QUICGroup) Recv(ctx context.Context, src int, tag int32, buf []byte) error {
	g.inboxMu.Lock()
	m := g.pending
	g.inboxMu.Unlock()

	if m == nil {
		return fmt.Errorf("transport: Recv called on rank %d without a matching Probe", g.rank)
	}
	if src != AnySource && m.src != src {
		return fmt.Errorf("transport: Recv src %d does not match probed src %d", src, m.src)
	}
	if m.tag != tag {
		return fmt.Errorf("transport: Recv tag %d does not match probed tag %d", tag, m.tag)
	}
	if len(buf) < len(m.payload) {
		return fmt.Errorf("transport: Recv buffer of %d bytes too small for %d-byte message", len(buf), len(m.payload))
	}
	copy(buf, m.payload)

	g.inboxMu.Lock()
	g.pending = nil
	g.inboxMu.Unlock()
	return nil
}

// IBarrier enters a non-blocking barrier generation: it marks this rank
// as arrived, broadcasts a control frame to every connected peer, and
// returns a handle that completes once every rank (self included) has
// arrived at this generation.
func (g *QUICGroup) IBarrier(ctx context.Context) BarrierHandle {
	done := g.markBarrierArrived(g.rank)

	g.mu.Lock()
	peers := make([]quic.Stream, 0, len(g.streams))
	for _, s := range g.streams {
		peers = append(peers, s)
	}
	g.mu.Unlock()

	for _, stream := range peers {
		go func(s quic.Stream) {
			if err := writeFrame(s, controlTag, nil); err != nil {
				base.LogWarning(LogTransport, "transport: barrier control frame failed: %v", err)
			}
		}(stream)
	}

	return &chanHandle{done: done}
}

// markBarrierArrived records rank as arrived in the current barrier
// generation and, if this completes it, closes its done channel and
// resets state for the next generation. It returns the done channel the
// caller should wait on (captured before any reset).
func (g *QUICGroup) markBarrierArrived(rank int) chan struct{} {
	g.barrierMu.Lock()
	defer g.barrierMu.Unlock()

	g.barrierArrived[rank] = true
	done := g.barrierDone
	if len(g.barrierArrived) == g.Size() {
		close(g.barrierDone)
		g.barrierArrived = make(map[int]bool)
		g.barrierDone = make(chan struct{})
	}
	return done
}

func (g *QUICGroup) Close() error {
	g.cancel()
	var firstErr error
	g.mu.Lock()
	for _, conn := range g.conns {
		if err := conn.CloseWithError(0, "close"); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	g.mu.Unlock()
	if err := g.listener.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (g *QUICGroup) readLoop(peer int, stream quic.Stream) {
	defer g.wg.Done()
	for {
		tag, payload, err := readFrame(stream)
		if err != nil {
			if err != io.EOF {
				base.LogWarning(LogTransport, "transport: read from rank %d failed: %v", peer, err)
			}
			return
		}

		if tag == controlTag {
			g.markBarrierArrived(peer)
			continue
		}

		select {
		case g.inbox <- inboundMsg{src: peer, tag: tag, payload: payload}:
		case <-g.ctx.Done():
			return
		}
	}
}

/***************************************
 * Wire framing: 4-byte rank handshake, then
 * [4-byte length | 1-byte compressed-flag | 4-byte tag | body] frames,
 * compression grounded on internal/base/Compression.go.
 ***************************************/

func writeHandshake(w io.Writer, rank int) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(rank))
	_, err := w.Write(buf[:])
	return err
}

func readHandshake(r io.Reader) (int, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int(binary.LittleEndian.Uint32(buf[:])), nil
}

func writeFrame(w io.Writer, tag int32, payload []byte) error {
	body := payload
	compressed := byte(0)
	if len(payload) >= compressThreshold {
		var buf writeBuffer
		cw := base.NewCompressedWriter(&buf)
		if _, err := cw.Write(payload); err == nil {
			if err := cw.Flush(); err == nil {
				if err := cw.Close(); err == nil && buf.Len() < len(payload) {
					body = buf.Bytes()
					compressed = 1
				}
			}
		}
	}

	header := make([]byte, 9)
	binary.LittleEndian.PutUint32(header[:4], uint32(len(body)))
	header[4] = compressed
	binary.LittleEndian.PutUint32(header[5:9], uint32(tag))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readFrame(r io.Reader) (int32, []byte, error) {
	header := make([]byte, 9)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	size := binary.LittleEndian.Uint32(header[:4])
	compressed := header[4] != 0
	tag := int32(binary.LittleEndian.Uint32(header[5:9]))

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	if !compressed {
		return tag, body, nil
	}

	cr := base.NewCompressedReader(&readBuffer{data: body})
	defer cr.Close()
	decoded, err := io.ReadAll(cr)
	if err != nil {
		return 0, nil, err
	}
	return tag, decoded, nil
}

// writeBuffer is a minimal growable byte sink, used instead of
// bytes.Buffer only to keep this file's import list matching what it
// actually needs beyond the standard library.
type writeBuffer struct{ data []byte }

func (b *writeBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
func (b *writeBuffer) Len() int      { return len(b.data) }
func (b *writeBuffer) Bytes() []byte { return b.data }

// readBuffer is a minimal io.Reader over a fixed byte slice.
type readBuffer struct {
	data []byte
	pos  int
}

func (b *readBuffer) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}

func selfFQDN() string {
	name, err := fqdn.FqdnHostname()
	if err != nil {
		return "unknown"
	}
	return name
}

/***************************************
 * TLS config (self-signed, grounded on cluster/tunnel.go's
 * generateClientTLSConfig/generateServerTLSConfig)
 ***************************************/

func generateClientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{wireProtocol},
	}
}

func generateServerTLSConfig() *tls.Config {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		base.LogPanicErr(LogTransport, err)
	}

	template := x509.Certificate{SerialNumber: big.NewInt(1)}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		base.LogPanicErr(LogTransport, err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		base.LogPanicErr(LogTransport, err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{wireProtocol},
	}
}
