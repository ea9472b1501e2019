package calib

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunTopic(t *testing.T) {
	if got := RunTopic("calibcheck"); got != "calibcheck/run" {
		t.Errorf("RunTopic() = %q, want calibcheck/run", got)
	}
}

func TestNewMQTTClient_Disabled(t *testing.T) {
	client, err := NewMQTTClient(MQTTConfig{}, nil)
	if err != nil {
		t.Errorf("NewMQTTClient() error = %v, want nil", err)
	}
	if client != nil {
		t.Error("NewMQTTClient() should return nil client when no broker is configured")
	}
}

func TestNewMQTTClient_NoPrefix(t *testing.T) {
	_, err := NewMQTTClient(MQTTConfig{Broker: "tcp://localhost:1883"}, nil)
	if err == nil {
		t.Error("expected error when MQTT is enabled without a publish prefix")
	}
}

func TestNewMQTTClient_ReturnsImmediately(t *testing.T) {
	// nothing listens on this port; connecting happens in the background
	cfg := MQTTConfig{Broker: "tcp://127.0.0.1:1", PublishPrefix: "test", ClientID: "test"}

	start := time.Now()
	client, err := NewMQTTClient(cfg, nil)
	if err != nil {
		t.Fatalf("NewMQTTClient() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("NewMQTTClient() took %v, want it to return without waiting for the broker", elapsed)
	}
	if client == nil || client.GetClient() == nil {
		t.Fatal("expected a client with an underlying MQTT client")
	}
	if client.IsConnected() {
		t.Error("client should not be connected to an unreachable broker")
	}
}

func TestMQTTClient_WithMock_OnConnect(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	var calls atomic.Int32
	var received []byte
	handler := func(payload []byte) {
		calls.Add(1)
		received = payload
	}

	client := newMQTTClientWithMock(mock, MQTTConfig{PublishPrefix: "cell1"}, handler)
	client.onConnect(mock)

	if !client.IsConnected() {
		t.Error("client should be connected after onConnect")
	}
	if !mock.Subscribed("cell1/run") {
		t.Fatal("expected subscription to cell1/run")
	}

	mock.SimulateMessage("cell1/run", []byte(`{"mode":"left"}`))
	if calls.Load() != 1 {
		t.Errorf("run handler calls = %d, want 1", calls.Load())
	}
	if string(received) != `{"mode":"left"}` {
		t.Errorf("payload = %s", received)
	}
}

func TestMQTTClient_WithMock_SubscribeError(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	mock.SetSubscribeError(errors.New("not authorized"))

	client := newMQTTClientWithMock(mock, MQTTConfig{PublishPrefix: "cell1"}, nil)
	client.onConnect(mock)

	if mock.Subscribed("cell1/run") {
		t.Error("no subscription expected after subscribe error")
	}
	if !client.IsConnected() {
		t.Error("subscribe failure should not mark the client disconnected")
	}
}

func TestMQTTClient_NilHandler(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	client := newMQTTClientWithMock(mock, MQTTConfig{PublishPrefix: "p"}, nil)
	client.onConnect(mock)

	// must not panic
	mock.SimulateMessage("p/run", nil)
}

func TestMQTTClient_ConnectionLost(t *testing.T) {
	mock := NewMockClient()
	client := newMQTTClientWithMock(mock, MQTTConfig{PublishPrefix: "p"}, nil)

	client.setConnected(true)
	client.onConnectionLost(mock, errors.New("broken pipe"))
	if client.IsConnected() {
		t.Error("client should be disconnected after connection loss")
	}
	client.onReconnecting(mock, nil)
}

func TestMQTTClient_Disconnect(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	client := newMQTTClientWithMock(mock, MQTTConfig{PublishPrefix: "p"}, nil)
	client.setConnected(true)

	client.Disconnect()

	if mock.IsConnected() {
		t.Error("underlying client should be disconnected")
	}
	if client.IsConnected() {
		t.Error("client should report disconnected")
	}
}

func TestMQTTClient_ConcurrentAccess(t *testing.T) {
	client := newMQTTClientWithMock(NewMockClient(), MQTTConfig{PublishPrefix: "p"}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(v bool) {
			defer wg.Done()
			client.setConnected(v)
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			_ = client.IsConnected()
		}()
	}
	wg.Wait()
}

// ---- mock ----

func TestMockClient_ConnectWithError(t *testing.T) {
	mock := NewMockClient()
	expectedErr := errors.New("connection failed")
	mock.SetConnectError(expectedErr)

	token := mock.Connect()
	if token.Error() != expectedErr {
		t.Errorf("Connect error = %v, want %v", token.Error(), expectedErr)
	}
	if mock.IsConnected() {
		t.Error("Client should not be connected after failed Connect()")
	}
}

func TestMockClient_PublishNotConnected(t *testing.T) {
	mock := NewMockClient()
	token := mock.Publish("test/topic", 0, false, []byte("data"))
	if token.Error() == nil {
		t.Error("Publish should error when not connected")
	}
}
