//go:build integration

package session_test

import (
	"fmt"
	"net"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termqapp/termq/internal/mqtt/session"
)

// startBroker runs an embedded broker on a free port and returns its
// address.
func startBroker(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	server := mochi.New(&mochi.Options{})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "itest",
		Address: addr,
	})))

	go func() {
		if err := server.Serve(); err != nil {
			t.Logf("broker serve: %v", err)
		}
	}()
	t.Cleanup(func() { _ = server.Close() })

	// Wait for the listener to come up.
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 50*time.Millisecond)

	return addr
}

func connectPeer(t *testing.T, addr, clientID string) paho.Client {
	t.Helper()

	opts := paho.NewClientOptions().
		AddBroker("tcp://" + addr).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second)

	peer := paho.NewClient(opts)
	token := peer.Connect()
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	t.Cleanup(func() { peer.Disconnect(100) })
	return peer
}

func TestSessionAgainstRealBroker(t *testing.T) {
	addr := startBroker(t)

	sess := session.New(session.Options{Logger: zerolog.Nop()})
	defer sess.Close()

	require.NoError(t, sess.Submit(session.Connect(session.Endpoint{
		URL:            "mqtt://" + addr,
		ClientID:       "termq-itest",
		CleanSession:   true,
		KeepAlive:      10 * time.Second,
		ConnectTimeout: 5 * time.Second,
	})))

	require.Eventually(t, func() bool {
		return sess.ConnState().Phase == session.PhaseConnected
	}, 5*time.Second, 50*time.Millisecond, "session never connected")

	require.NoError(t, sess.Submit(session.Subscribe("itest/sensors/+/temp", 1)))
	require.Eventually(t, func() bool {
		return len(sess.Subscriptions()) == 1
	}, 5*time.Second, 50*time.Millisecond)
	// Give the SUBSCRIBE time to land broker-side before publishing.
	time.Sleep(200 * time.Millisecond)

	// A second, independent client publishes into our subscription.
	peer := connectPeer(t, addr, "paho-peer")

	token := peer.Publish("itest/sensors/kitchen/temp", 1, true, "21.5")
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	token = peer.Publish("itest/sensors/hall/temp", 1, false, "19.8")
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	require.Eventually(t, func() bool {
		return len(sess.Topics()) == 2
	}, 5*time.Second, 50*time.Millisecond, "messages never arrived")

	hist := sess.TopicSnapshot("itest/sensors/kitchen/temp")
	require.Len(t, hist, 1)
	assert.Equal(t, "21.5", string(hist[0].Payload))

	// The broker forwards the retain flag on live delivery per 3.1.1 only
	// for new subscribers, so check via a fresh retained read instead.
	require.NoError(t, sess.Submit(session.Subscribe("itest/sensors/#", 0)))
	require.Eventually(t, func() bool {
		retained, ok := sess.Retained("itest/sensors/kitchen/temp")
		return ok && string(retained.Payload) == "21.5"
	}, 5*time.Second, 50*time.Millisecond, "retained replay never arrived")
}

func TestSessionPublishesExactlyOnce(t *testing.T) {
	addr := startBroker(t)

	sess := session.New(session.Options{Logger: zerolog.Nop()})
	defer sess.Close()

	require.NoError(t, sess.Submit(session.Connect(session.Endpoint{
		URL:            "mqtt://" + addr,
		ClientID:       "termq-itest-pub",
		CleanSession:   true,
		ConnectTimeout: 5 * time.Second,
	})))
	require.Eventually(t, func() bool {
		return sess.ConnState().Phase == session.PhaseConnected
	}, 5*time.Second, 50*time.Millisecond)

	received := make(chan string, 8)
	peer := connectPeer(t, addr, "paho-sub")
	token := peer.Subscribe("itest/actuators/#", 2, func(_ paho.Client, msg paho.Message) {
		received <- string(msg.Payload())
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())

	for i := 0; i < 3; i++ {
		require.NoError(t, sess.Submit(session.Publish(
			"itest/actuators/relay", []byte(fmt.Sprintf("cmd-%d", i)), 2, false)))
	}
	// Pump until the handshakes complete.
	require.Eventually(t, func() bool {
		return sess.Stats().Inflight == 0
	}, 5*time.Second, 50*time.Millisecond, "QoS 2 handshakes never completed")

	got := map[string]int{}
	deadline := time.After(5 * time.Second)
	for len(got) < 3 {
		select {
		case payload := <-received:
			got[payload]++
		case <-deadline:
			t.Fatalf("timed out, received %v", got)
		}
	}
	for payload, count := range got {
		assert.Equal(t, 1, count, "payload %q delivered %d times", payload, count)
	}
}
