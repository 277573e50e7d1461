// Package testutil provides helpers shared by the roomchat test suites: a test
// logger, HTTP request and response assertions, and a small WebSocket chat client.
package testutil

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestOrigin is the Origin header the WebSocket helpers send.
const TestOrigin = "http://localhost:8080"

// Envelope mirrors the JSON frame the hub delivers to clients.
type Envelope struct {
	IsMe     bool   `json:"isMe"`
	Username string `json:"username"`
	Data     string `json:"data"`
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// NewLogger returns a debug-level logger that writes through t.Log, so output
// only shows up for failing or verbose runs.
func NewLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks that the Content-Type header starts with expected.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, expected) {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request with a 5-second timeout.
// The response body is closed when the test ends.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

// WebSocketURL turns an httptest server URL into a ws:// URL for path.
func WebSocketURL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}

// ConnectWebSocket dials url with the given Origin header. An empty origin
// uses TestOrigin. The HTTP response is returned so callers can inspect
// rejected handshakes.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	if origin == "" {
		origin = TestOrigin
	}
	headers := http.Header{}
	headers.Set("Origin", origin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials url, fails the test on error, reads the join notice and
// registers the connection for cleanup.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := ConnectWebSocket(url, "")
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	joined, err := ReceiveEnvelope(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to read join notice: %v", err)
	}
	if !joined.IsMe || joined.Username != "You" {
		t.Fatalf("Unexpected join notice: %+v", joined)
	}
	return conn
}

// SendChat sends an inbound chat envelope.
func SendChat(conn *websocket.Conn, username, message string) error {
	return conn.WriteJSON(map[string]string{"username": username, "message": message})
}

// SendRawMessage sends a raw text frame.
func SendRawMessage(conn *websocket.Conn, data []byte) error {
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ReceiveEnvelope reads the next frame and decodes it as an Envelope.
func ReceiveEnvelope(conn *websocket.Conn, timeout time.Duration) (Envelope, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Envelope{}, err
	}
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// ExpectSilence fails the test if conn receives a frame within wait.
// A timed-out read poisons a gorilla connection, so conn cannot be read again.
func ExpectSilence(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	if env, err := ReceiveEnvelope(conn, wait); err == nil {
		t.Errorf("Expected no message, got %+v", env)
	}
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
