package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mwalters/cachedns/internal/dns/common/log"
	"github.com/mwalters/cachedns/internal/dns/wire"
)

// udpReceiveTimeout bounds each blocking read so the accept loop can
// notice shutdown without an in-flight read hanging forever; timeouts
// here are routine and never logged.
const udpReceiveTimeout = 5 * time.Second

// udpReceiveBuffer is sized for the largest possible UDP datagram, so no
// incoming query is cut short on read.
const udpReceiveBuffer = 65536

// udpMaxResponse is the largest response this listener sends without
// truncation.
const udpMaxResponse = 512

// UDPListener accepts DNS queries over UDP, forwards them to a
// Resolver synchronously, and truncates oversized responses with TC=1
// set per RFC 1035.
type UDPListener struct {
	addr string
	log  log.Logger

	mu      sync.Mutex
	conn    *net.UDPConn
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewUDPListener returns a UDPListener bound to addr once Start runs.
func NewUDPListener(addr string, logger log.Logger) *UDPListener {
	return &UDPListener{addr: addr, log: logger}
}

// Start binds the UDP socket and begins the receive loop in the
// background. It returns once the socket is bound.
func (l *UDPListener) Start(ctx context.Context, resolver Resolver) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("udp listener already running")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return fmt.Errorf("resolve udp address %s: %w", l.addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("bind udp socket on %s: %w", l.addr, err)
	}

	l.conn = conn
	l.running = true
	l.stopCh = make(chan struct{})
	l.done = make(chan struct{})

	l.log.Info(map[string]any{"transport": "udp", "address": l.addr}, "dns listener started")

	go l.serve(ctx, resolver)
	return nil
}

// Stop closes the UDP socket and waits for the receive loop to exit.
func (l *UDPListener) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	close(l.stopCh)
	conn := l.conn
	l.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	<-l.done
	l.log.Info(map[string]any{"transport": "udp", "address": l.addr}, "dns listener stopped")
	return err
}

// Address returns the configured bind address.
func (l *UDPListener) Address() string {
	return l.addr
}

func (l *UDPListener) serve(ctx context.Context, resolver Resolver) {
	defer close(l.done)
	buf := make([]byte, udpReceiveBuffer)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		default:
		}

		if err := l.conn.SetReadDeadline(time.Now().Add(udpReceiveTimeout)); err != nil {
			l.log.Warn(map[string]any{"error": err.Error()}, "failed to set udp read deadline")
		}

		n, clientAddr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-l.stopCh:
				return
			default:
			}
			l.log.Warn(map[string]any{"error": err.Error()}, "udp read failed")
			continue
		}

		query := make([]byte, n)
		copy(query, buf[:n])
		l.handle(ctx, resolver, query, clientAddr)
	}
}

func (l *UDPListener) handle(ctx context.Context, resolver Resolver, query []byte, clientAddr *net.UDPAddr) {
	response := resolver.Resolve(ctx, query)
	response = truncateForUDP(response, l.log)

	if _, err := l.conn.WriteToUDP(response, clientAddr); err != nil {
		l.log.Warn(map[string]any{"error": err.Error(), "client": clientAddr.String()}, "udp write failed")
	}
}

// truncateForUDP enforces the 512-byte UDP ceiling: an oversized
// response is re-parsed, has its TC bit set, and is hard-truncated to
// exactly 512 bytes, per RFC 1035's original (non-EDNS) truncation
// behavior this resolver implements.
func truncateForUDP(response []byte, logger log.Logger) []byte {
	if len(response) <= udpMaxResponse {
		return response
	}

	msg, _, err := wire.Parse(response)
	if err != nil {
		logger.Warn(map[string]any{"error": err.Error()}, "failed to re-parse oversized response for truncation")
		return response[:udpMaxResponse]
	}

	truncated, err := wire.Serialize(msg.WithTC(true))
	if err != nil {
		logger.Warn(map[string]any{"error": err.Error()}, "failed to re-serialize truncated response")
		return response[:udpMaxResponse]
	}
	if len(truncated) > udpMaxResponse {
		truncated = truncated[:udpMaxResponse]
	}
	return truncated
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
