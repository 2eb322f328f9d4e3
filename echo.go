// SPDX-FileCopyrightText: 2026 The jingle-nat authors
// SPDX-License-Identifier: MIT

package nat

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/jingle-go/nat/internal/metrics"
	natstun "github.com/jingle-go/nat/internal/stun"
	"github.com/pion/logging"
	"github.com/pion/stun/v3"
	"github.com/pion/transport/v3"
	"github.com/pion/transport/v3/stdnet"
)

const (
	echoLoggerScope = "nat-echo"

	receiveMTU = 1460
)

// EchoConfig configures a CandidateEcho.
type EchoConfig struct {
	// Net is used to bind the echo socket. Defaults to the standard library network.
	Net transport.Net

	LoggerFactory logging.LoggerFactory
}

// CandidateEcho is a liveness probe bound to a candidate's local address.
//
// Probes are STUN binding requests. The same socket answers binding
// requests from peers, so two echoes can test each other.
type CandidateEcho struct {
	conn  net.PacketConn
	owned bool
	log   logging.LeveledLogger

	mu      sync.Mutex
	pending map[[stun.TransactionIDSize]byte]chan *stun.Message

	closed    chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewCandidateEcho binds a new socket on laddr and starts answering probes on it.
func NewCandidateEcho(laddr *net.UDPAddr, config *EchoConfig) (*CandidateEcho, error) {
	if config == nil {
		config = &EchoConfig{}
	}

	n := config.Net
	if n == nil {
		var err error
		if n, err = stdnet.NewNet(); err != nil {
			return nil, err
		}
	}

	network := udp
	switch {
	case laddr.IP == nil:
	case laddr.IP.To4() != nil:
		network = NetworkTypeUDP4.String()
	default:
		network = NetworkTypeUDP6.String()
	}

	conn, err := n.ListenUDP(network, laddr)
	if err != nil {
		return nil, err
	}

	return newCandidateEcho(conn, true, config)
}

// newCandidateEcho starts an echo over conn. An owned conn is closed with the echo.
func newCandidateEcho(conn net.PacketConn, owned bool, config *EchoConfig) (*CandidateEcho, error) {
	if config == nil {
		config = &EchoConfig{}
	}

	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	e := &CandidateEcho{
		conn:    conn,
		owned:   owned,
		log:     loggerFactory.NewLogger(echoLoggerScope),
		pending: map[[stun.TransactionIDSize]byte]chan *stun.Message{},
		closed:  make(chan struct{}),
		stopped: make(chan struct{}),
	}

	if shared, ok := conn.(*sharedConn); ok {
		// Waits for a binding request still reading the socket.
		shared.setReader(e)
	}

	if !owned {
		// A previous echo may have left an expired deadline on a borrowed socket.
		if err := conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, err
		}
	}

	go e.readLoop()

	return e, nil
}

// LocalAddr returns the address the echo is bound to.
func (e *CandidateEcho) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// Test sends a probe to ip:port and reports whether a well formed reply
// arrived within timeout.
func (e *CandidateEcho) Test(ip net.IP, port int, timeout time.Duration) bool {
	ok := e.test(&net.UDPAddr{IP: ip, Port: port}, timeout)
	if ok {
		metrics.EchoTests.WithLabelValues("success").Inc()
	} else {
		metrics.EchoTests.WithLabelValues("failure").Inc()
	}

	return ok
}

func (e *CandidateEcho) test(raddr *net.UDPAddr, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := e.roundTrip(ctx, raddr)
	if err != nil {
		e.log.Debugf("Echo to %s failed: %v", raddr, err)

		return false
	}

	var addr stun.XORMappedAddress

	return stun.Fingerprint.Check(res) == nil && addr.GetFrom(res) == nil
}

// bindingRequest learns the mapping of the echo socket from a STUN server.
func (e *CandidateEcho) bindingRequest(ctx context.Context, server net.Addr) (*net.UDPAddr, error) {
	res, err := e.roundTrip(ctx, server)
	if err != nil {
		return nil, err
	}

	return natstun.MappedAddr(res)
}

// roundTrip sends a binding request to raddr and waits for the response
// carrying its transaction ID.
func (e *CandidateEcho) roundTrip(ctx context.Context, raddr net.Addr) (*stun.Message, error) {
	select {
	case <-e.closed:
		return nil, errEchoClosed
	default:
	}

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if err != nil {
		return nil, err
	}

	result := make(chan *stun.Message, 1)
	e.mu.Lock()
	e.pending[req.TransactionID] = result
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.pending, req.TransactionID)
		e.mu.Unlock()
	}()

	if _, err = e.conn.WriteTo(req.Raw, raddr); err != nil {
		return nil, err
	}

	select {
	case res := <-result:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.closed:
		return nil, errEchoClosed
	case <-e.stopped:
		return nil, errEchoClosed
	}
}

func (e *CandidateEcho) readLoop() {
	defer close(e.stopped)

	buf := make([]byte, receiveMTU)
	for {
		n, from, err := e.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-e.closed:
				return
			default:
			}

			// A binding request sharing the socket may expire its deadline.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if !errors.Is(err, net.ErrClosed) {
				e.log.Warnf("Echo read failed: %v", err)
			}

			return
		}

		if !stun.IsMessage(buf[:n]) {
			continue
		}

		msg := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := msg.Decode(); err != nil {
			e.log.Debugf("Dropping malformed message from %s: %v", from, err)

			continue
		}

		switch msg.Type {
		case stun.BindingRequest:
			e.reply(msg, from)
		case stun.BindingSuccess, stun.BindingError:
			e.deliver(msg)
		}
	}
}

func (e *CandidateEcho) reply(req *stun.Message, from net.Addr) {
	if err := stun.Fingerprint.Check(req); err != nil {
		e.log.Debugf("Dropping unsigned probe from %s", from)

		return
	}

	udpAddr, ok := from.(*net.UDPAddr)
	if !ok {
		return
	}

	res, err := stun.Build(req, stun.BindingSuccess,
		&stun.XORMappedAddress{IP: udpAddr.IP, Port: udpAddr.Port},
		stun.Fingerprint,
	)
	if err != nil {
		e.log.Warnf("Failed to build echo reply: %v", err)

		return
	}

	if _, err = e.conn.WriteTo(res.Raw, from); err != nil {
		e.log.Debugf("Failed to answer probe from %s: %v", from, err)
	}
}

func (e *CandidateEcho) deliver(res *stun.Message) {
	e.mu.Lock()
	result, ok := e.pending[res.TransactionID]
	e.mu.Unlock()
	if !ok {
		return
	}

	select {
	case result <- res:
	default:
	}
}

// Close stops the echo and releases its socket. It is safe to call more than once.
func (e *CandidateEcho) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		if e.owned {
			err = e.conn.Close()
		} else {
			// Unblock the reader without closing a socket owned by someone else.
			err = e.conn.SetReadDeadline(time.Now())
		}
		<-e.stopped

		if shared, ok := e.conn.(*sharedConn); ok {
			shared.clearReader(e)
		}
	})

	return err
}
