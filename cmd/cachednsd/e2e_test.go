package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mwalters/cachedns/internal/dns/config"
	"github.com/mwalters/cachedns/internal/dns/domain"
	"github.com/mwalters/cachedns/internal/dns/wire"
)

// TestE2E_UDPRoundTrip starts the full application against an
// unreachable root server and checks a client gets a well-formed
// ServerFailure back over UDP, end to end through config, resolver,
// and transport.
func TestE2E_UDPRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	dbPath := filepath.Join(t.TempDir(), "cache.db")

	env := map[string]string{
		"DNS_PORT":             fmt.Sprintf("%d", port),
		"DNS_HOST":             "127.0.0.1",
		"DNS_PROTOCOL":         "udp",
		"DNS_CACHE_LOCATION":   dbPath,
		"DNS_ROOT_SERVERS":     "198.51.100.1",
		"DNS_UPSTREAM_TIMEOUT": "1",
		"DNS_LOG_LEVEL":        "error",
	}
	for k, v := range env {
		require.NoError(t, os.Setenv(k, v))
	}
	t.Cleanup(func() {
		for k := range env {
			_ = os.Unsetenv(k)
		}
	})

	cfg, err := config.Load()
	require.NoError(t, err)

	app, err := buildApplication(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	appErr := make(chan error, 1)
	go func() { appErr <- app.Run(ctx) }()

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer conn.Close()

	query, err := wire.Serialize(domain.Message{
		Header:    domain.Header{ID: 0xBEEF, RD: true, QDCount: 1},
		Questions: []domain.Question{{Name: "example.com.", Type: domain.RRTypeA, Class: domain.RRClassIN}},
	})
	require.NoError(t, err)

	resp := sendUntilAnswered(t, conn, query)
	require.Equal(t, uint16(0xBEEF), resp.Header.ID)
	require.Equal(t, domain.ServerFailure, resp.Header.RCode)

	cancel()
	select {
	case err := <-appErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application failed to shut down")
	}
}

// sendUntilAnswered resends query over conn until it gets a parseable
// response, tolerating the startup window before the listener goroutine
// has bound its socket.
func sendUntilAnswered(t *testing.T, conn net.Conn, query []byte) domain.Message {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	buf := make([]byte, 512)

	for time.Now().Before(deadline) {
		if _, err := conn.Write(query); err != nil {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
		n, err := conn.Read(buf)
		if err != nil {
			continue
		}
		resp, _, err := wire.Parse(buf[:n])
		if err != nil {
			continue
		}
		return resp
	}
	t.Fatal("no response received before deadline")
	return domain.Message{}
}
