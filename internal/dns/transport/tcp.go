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

// tcpAcceptTimeout bounds each blocking Accept so the loop can notice
// shutdown; like the UDP receive timeout, hitting it is routine.
const tcpAcceptTimeout = 5 * time.Second

// TCPListener accepts DNS-over-TCP connections, each framed with a
// 2-byte big-endian length prefix, and closes the connection after one
// query/response exchange.
type TCPListener struct {
	addr string
	log  log.Logger

	mu      sync.Mutex
	ln      *net.TCPListener
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewTCPListener returns a TCPListener bound to addr once Start runs.
func NewTCPListener(addr string, logger log.Logger) *TCPListener {
	return &TCPListener{addr: addr, log: logger}
}

// Start binds the TCP socket and begins the accept loop in the
// background. It returns once the socket is listening.
func (l *TCPListener) Start(ctx context.Context, resolver Resolver) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("tcp listener already running")
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("resolve tcp address %s: %w", l.addr, err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("bind tcp socket on %s: %w", l.addr, err)
	}

	l.ln = ln
	l.running = true
	l.stopCh = make(chan struct{})
	l.done = make(chan struct{})

	l.log.Info(map[string]any{"transport": "tcp", "address": l.addr}, "dns listener started")

	go l.serve(ctx, resolver)
	return nil
}

// Stop closes the TCP socket and waits for the accept loop to exit.
func (l *TCPListener) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	close(l.stopCh)
	ln := l.ln
	l.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	<-l.done
	l.log.Info(map[string]any{"transport": "tcp", "address": l.addr}, "dns listener stopped")
	return err
}

// Address returns the configured bind address.
func (l *TCPListener) Address() string {
	return l.addr
}

func (l *TCPListener) serve(ctx context.Context, resolver Resolver) {
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		default:
		}

		if err := l.ln.SetDeadline(time.Now().Add(tcpAcceptTimeout)); err != nil {
			l.log.Warn(map[string]any{"error": err.Error()}, "failed to set tcp accept deadline")
		}

		conn, err := l.ln.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-l.stopCh:
				return
			default:
			}
			l.log.Warn(map[string]any{"error": err.Error()}, "tcp accept failed")
			continue
		}

		l.handle(ctx, resolver, conn)
	}
}

// handle services exactly one query/response exchange before closing
// conn, per the spec's "close the connection after one exchange" rule.
func (l *TCPListener) handle(ctx context.Context, resolver Resolver, conn net.Conn) {
	defer conn.Close()

	query, err := wire.ReadTCPFrame(conn)
	if err != nil {
		l.log.Warn(map[string]any{"error": err.Error(), "client": conn.RemoteAddr().String()}, "tcp frame read failed")
		return
	}

	response := resolver.Resolve(ctx, query)

	if err := wire.WriteTCPFrame(conn, response); err != nil {
		l.log.Warn(map[string]any{"error": err.Error(), "client": conn.RemoteAddr().String()}, "tcp frame write failed")
	}
}
