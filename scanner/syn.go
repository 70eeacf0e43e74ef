package scanner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Source ports used for outgoing SYNs rotate through this window.
const (
	synPortBase = 40000
	synPortSpan = 20000
)

// SynPrecheck sends a raw TCP SYN to the probe port before handing the
// address to Inner. A RST reply is reported as refused and a missing reply as
// timed out, both without an HTTP request. The SYN wait and the inner probe
// share one Timeout. IPv4 only; other addresses go straight to Inner.
// Requires root/administrator privileges.
type SynPrecheck struct {
	Inner   Prober
	Port    int
	Timeout time.Duration

	conn  net.PacketConn
	route func(dst netip.Addr) (netip.Addr, error)

	mu      sync.Mutex
	waiting map[synKey]chan bool
	nextSrc atomic.Uint32

	done      chan struct{}
	closeOnce sync.Once
}

// synKey identifies the reply to one outstanding SYN.
type synKey struct {
	remote netip.Addr
	port   layers.TCPPort // our source port
}

// InitSynPrecheck opens the raw socket shared by every probe.
func InitSynPrecheck(inner Prober, port int, timeout time.Duration) (*SynPrecheck, error) {
	conn, err := net.ListenPacket("ip4:tcp", "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("SYN pre-check requires root/administrator privileges: %w", err)
	}
	return newSynPrecheck(inner, port, timeout, conn, routeSource), nil
}

func newSynPrecheck(inner Prober, port int, timeout time.Duration, conn net.PacketConn, route func(netip.Addr) (netip.Addr, error)) *SynPrecheck {
	s := &SynPrecheck{
		Inner:   inner,
		Port:    port,
		Timeout: timeout,
		conn:    conn,
		route:   route,
		waiting: make(map[synKey]chan bool),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// routeSource returns the local address the kernel would use to reach dst.
// Connecting a UDP socket sends nothing.
func routeSource(dst netip.Addr) (netip.Addr, error) {
	c, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(netip.AddrPortFrom(dst, 9)))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("no route to %s: %w", dst, err)
	}
	defer c.Close()
	return c.LocalAddr().(*net.UDPAddr).AddrPort().Addr().Unmap(), nil
}

// Probe runs the SYN check and, if the port answered, the inner probe.
func (s *SynPrecheck) Probe(ctx context.Context, addr string) RawOutcome {
	ip, err := netip.ParseAddr(addr)
	if err != nil || !ip.Is4() {
		return s.Inner.Probe(ctx, addr)
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	open, err := s.check(ctx, ip)
	switch {
	case err == nil && open:
		return s.Inner.Probe(ctx, addr)
	case err == nil:
		return RawOutcome{Kind: RawNetworkFailure, Reason: "refused"}
	case errors.Is(err, context.DeadlineExceeded):
		return RawOutcome{Kind: RawTimedOut, Reason: "timeout", Err: err}
	case errors.Is(err, context.Canceled):
		return RawOutcome{Kind: RawNetworkFailure, Reason: "canceled", Err: err}
	default:
		// Send trouble is not evidence of absence.
		return s.Inner.Probe(ctx, addr)
	}
}

// check sends one SYN and waits for SYN-ACK (true) or RST (false).
func (s *SynPrecheck) check(ctx context.Context, dst netip.Addr) (bool, error) {
	src, err := s.route(dst)
	if err != nil {
		return false, err
	}

	key := synKey{remote: dst, port: s.sourcePort()}
	reply := make(chan bool, 1)
	s.mu.Lock()
	s.waiting[key] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiting, key)
		s.mu.Unlock()
	}()

	segment, err := synSegment(src, dst, key.port, layers.TCPPort(s.Port))
	if err != nil {
		return false, err
	}
	if _, err := s.conn.WriteTo(segment, &net.IPAddr{IP: dst.AsSlice()}); err != nil {
		return false, err
	}

	select {
	case open := <-reply:
		return open, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-s.done:
		return false, net.ErrClosed
	}
}

func (s *SynPrecheck) sourcePort() layers.TCPPort {
	return layers.TCPPort(synPortBase + s.nextSrc.Add(1)%synPortSpan)
}

// synSegment builds a bare TCP SYN; the kernel adds the IP header.
func synSegment(src, dst netip.Addr, srcPort, dstPort layers.TCPPort) ([]byte, error) {
	ipLayer := &layers.IPv4{
		SrcIP:    src.AsSlice(),
		DstIP:    dst.AsSlice(),
		Version:  4,
		Protocol: layers.IPProtocolTCP,
		TTL:      64,
	}
	tcpLayer := &layers.TCP{
		SrcPort: srcPort,
		DstPort: dstPort,
		SYN:     true,
		Seq:     rand.Uint32(),
		Window:  1024,
	}
	if err := tcpLayer.SetNetworkLayerForChecksum(ipLayer); err != nil {
		return nil, err
	}

	buffer := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buffer, opts, tcpLayer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// readLoop dispatches every TCP segment arriving on the raw socket until Close.
func (s *SynPrecheck) readLoop() {
	buf := make([]byte, 65535)
	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		ipAddr, ok := from.(*net.IPAddr)
		if !ok {
			continue
		}
		remote, ok := netip.AddrFromSlice(ipAddr.IP)
		if !ok {
			continue
		}
		s.deliver(remote.Unmap(), buf[:n])
	}
}

func (s *SynPrecheck) deliver(remote netip.Addr, segment []byte) {
	packet := gopacket.NewPacket(segment, layers.LayerTypeTCP, gopacket.Default)
	tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if !ok || tcp.SrcPort != layers.TCPPort(s.Port) {
		return
	}

	var open bool
	switch {
	case tcp.SYN && tcp.ACK:
		open = true
	case tcp.RST:
		open = false
	default:
		return
	}

	s.mu.Lock()
	reply, ok := s.waiting[synKey{remote: remote, port: tcp.DstPort}]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case reply <- open:
	default:
	}
}

// Close stops the reader and releases the raw socket.
func (s *SynPrecheck) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
