package ble

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/stonectl/internal/ble/crypto"
	"github.com/chaz8081/stonectl/internal/ble/protocol"
)

// ClientOptions configures the BLE client behavior.
type ClientOptions struct {
	ConnectTimeout  time.Duration // per connection attempt
	ConnectAttempts int           // connection attempts before giving up
	ReconnectMax    int           // max backoff between attempts in seconds
	CommandTimeout  time.Duration // wait for a single-shot result
	StreamTimeout   time.Duration // wait for a streamed exchange to finish
	// RecoverySettle is the pause after each recovery round.
	RecoverySettle []time.Duration
}

// DefaultClientOptions returns sensible defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ConnectTimeout:  10 * time.Second,
		ConnectAttempts: 3,
		ReconnectMax:    8,
		CommandTimeout:  12500 * time.Millisecond,
		StreamTimeout:   5 * time.Second,
		RecoverySettle:  []time.Duration{5 * time.Second, 2 * time.Second},
	}
}

// Client manages the connection to one stone at a time. Commands are
// serialized: a new command waits until the previous exchange has ended.
type Client struct {
	adapter Adapter
	keys    *crypto.Keyset
	opts    ClientOptions

	cmdMu sync.Mutex // one command in flight

	mu        sync.Mutex
	conn      Connection
	address   string
	services  ServiceSet
	session   *crypto.Session
	pending   *Reassembler
	connected bool
	dropped   chan struct{}
}

// NewClient creates a client. keys may be nil for recovery-only use.
func NewClient(adapter Adapter, keys *crypto.Keyset, opts ClientOptions) *Client {
	def := DefaultClientOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = def.ConnectAttempts
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = def.ReconnectMax
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = def.CommandTimeout
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = def.StreamTimeout
	}
	if opts.RecoverySettle == nil {
		opts.RecoverySettle = def.RecoverySettle
	}
	return &Client{
		adapter: adapter,
		keys:    keys,
		opts:    opts,
	}
}

// backoffDelay returns the delay before connection attempt n+1, capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	delay := time.Duration(1<<uint(attempt)) * time.Second
	max := time.Duration(maxSeconds) * time.Second
	if delay > max {
		return max
	}
	return delay
}

// Connect connects to the stone at address and, unless ignoreEncryption is
// set, establishes an encrypted session. With ignoreEncryption only
// unencrypted characteristic access is possible.
func (c *Client) Connect(ctx context.Context, address string, ignoreEncryption bool) error {
	address = strings.ToLower(address)
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("ble: already connected to %s", c.address)
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx, address)
	if err != nil {
		return err
	}

	dropped := make(chan struct{})
	var once sync.Once
	conn.OnDisconnect(func() {
		once.Do(func() { c.handleDisconnect(conn, dropped) })
	})

	set, setErr := resolveServiceSet(conn)
	var session *crypto.Session
	if !ignoreEncryption {
		if setErr != nil {
			conn.Disconnect()
			return setErr
		}
		session, err = establishSession(conn, set, c.keys)
		if err != nil {
			conn.Disconnect()
			return err
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.address = address
	c.services = set
	c.session = session
	c.connected = true
	c.dropped = dropped
	c.mu.Unlock()

	if session != nil {
		result, err := conn.Characteristic(set.Service, set.Result)
		if err != nil {
			c.Disconnect()
			return err
		}
		if err := result.Subscribe(c.handleNotification); err != nil {
			c.Disconnect()
			return fmt.Errorf("ble: subscribe to result: %w", err)
		}
	}

	slog.Info("[BLE] connected", "address", address, "mode", set.Mode, "encrypted", session != nil)
	return nil
}

// dial connects with backoff between failed attempts.
func (c *Client) dial(ctx context.Context, address string) (Connection, error) {
	var lastErr error
	for attempt := 0; attempt < c.opts.ConnectAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, c.opts.ReconnectMax)
			slog.Info("[BLE] connect backoff", "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
		conn, err := c.adapter.Connect(attemptCtx, address)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("[BLE] connect failed", "address", address, "error", err, "attempt", attempt+1)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("ble: connect to %s: %w", address, lastErr)
}

// handleDisconnect runs on the transport's goroutine when the link drops.
func (c *Client) handleDisconnect(conn Connection, dropped chan struct{}) {
	close(dropped)

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	pending := c.pending
	c.resetLocked()
	c.mu.Unlock()

	slog.Warn("[BLE] disconnected by peer")
	if pending != nil {
		pending.Fail(ErrDisconnected)
	}
}

func (c *Client) handleNotification(data []byte) {
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if pending == nil {
		slog.Debug("[BLE] dropping notification without pending request", "len", len(data))
		return
	}
	pending.Feed(data)
}

// resetLocked clears the connection state (caller must hold mu).
func (c *Client) resetLocked() {
	c.conn = nil
	c.session = nil
	c.pending = nil
	c.connected = false
}

// Disconnect closes the connection from this side.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	pending := c.pending
	c.resetLocked()
	c.mu.Unlock()

	if pending != nil {
		pending.Fail(ErrDisconnected)
	}
	if conn == nil {
		return nil
	}
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("ble: disconnect: %w", err)
	}
	slog.Info("[BLE] disconnected")
	return nil
}

// WaitForPeerDisconnect waits until the stone drops the link, for example
// after a reset command. It returns nil if the client is not connected.
func (c *Client) WaitForPeerDisconnect(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	dropped := c.dropped
	connected := c.connected
	c.mu.Unlock()
	if !connected || dropped == nil {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-dropped:
		return nil
	case <-timer.C:
		return fmt.Errorf("ble: peer did not disconnect within %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConnected reports whether a connection is open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Services returns the service set of the current connection.
func (c *Client) Services() ServiceSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.services
}

// Close gracefully disconnects the BLE client.
func (c *Client) Close() error {
	return c.Disconnect()
}

// characteristic looks up a characteristic on the current connection.
func (c *Client) characteristic(service, char string) (Characteristic, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return conn.Characteristic(service, char)
}

// ReadUnencrypted reads a characteristic without decrypting it.
func (c *Client) ReadUnencrypted(service, char string) ([]byte, error) {
	ch, err := c.characteristic(service, char)
	if err != nil {
		return nil, err
	}
	data, err := ch.Read()
	if err != nil {
		return nil, fmt.Errorf("ble: read %s: %w", char, err)
	}
	return data, nil
}

// WriteUnencrypted writes a characteristic with response and without encryption.
func (c *Client) WriteUnencrypted(service, char string, data []byte) error {
	ch, err := c.characteristic(service, char)
	if err != nil {
		return err
	}
	if err := ch.Write(data, true); err != nil {
		return fmt.Errorf("ble: write %s: %w", char, err)
	}
	return nil
}

// SendCommand encrypts a control packet, writes it to the active control
// characteristic and waits for the single result. accepted defaults to
// success and success-no-change.
func (c *Client) SendCommand(ctx context.Context, cmd protocol.CommandType, payload []byte, accepted ...protocol.ResultCode) (*protocol.ResultPacket, error) {
	if len(accepted) == 0 {
		accepted = []protocol.ResultCode{protocol.ResultSuccess, protocol.ResultSuccessNoChange}
	}

	var result *protocol.ResultPacket
	var parseErr error
	handler := func(message []byte) ProcessType {
		result, parseErr = protocol.ParseResult(message)
		return ProcessFinished
	}
	if err := c.exchange(ctx, cmd, payload, handler, c.opts.CommandTimeout, ErrNoNotificationData); err != nil {
		return nil, err
	}
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrResultInvalid, parseErr)
	}
	if !slices.Contains(accepted, result.Code) {
		return nil, &ResultNotAcceptedError{Command: cmd, Code: result.Code, Payload: result.Payload}
	}
	return result, nil
}

// StreamHandler decides on each result of a streamed command.
type StreamHandler func(result *protocol.ResultPacket) ProcessType

// SendStreamCommand writes a control packet and feeds every result to
// handler until it finishes or aborts. Malformed results abort the stream
// with ErrResultInvalid.
func (c *Client) SendStreamCommand(ctx context.Context, cmd protocol.CommandType, payload []byte, handler StreamHandler) (*protocol.ResultPacket, error) {
	// The handler may still be running on the notification goroutine when
	// the wait times out, so its results are read under mu.
	var (
		mu       sync.Mutex
		last     *protocol.ResultPacket
		parseErr error
	)
	wrapped := func(message []byte) ProcessType {
		result, err := protocol.ParseResult(message)
		mu.Lock()
		if err != nil {
			parseErr = err
			mu.Unlock()
			return ProcessAbort
		}
		last = result
		mu.Unlock()
		return handler(result)
	}
	err := c.exchange(ctx, cmd, payload, wrapped, c.opts.StreamTimeout, ErrNotificationStreamTimeout)

	mu.Lock()
	defer mu.Unlock()
	if parseErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrResultInvalid, parseErr)
	}
	if err != nil {
		if last != nil {
			return last, fmt.Errorf("ble: %s: last result %s: %w", cmd, last.Code, err)
		}
		return nil, err
	}
	return last, nil
}

// exchange runs one write-then-wait cycle under cmdMu.
func (c *Client) exchange(ctx context.Context, cmd protocol.CommandType, payload []byte, handler ResultHandler, timeout time.Duration, timeoutErr error) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.session == nil {
		c.mu.Unlock()
		return fmt.Errorf("ble: %s: connection has no encrypted session", cmd)
	}
	conn, set, session := c.conn, c.services, c.session
	decrypt := func(data []byte) ([]byte, error) {
		return crypto.Decrypt(data, session, c.keys)
	}
	r := NewReassembler(FramingIndexed, decrypt, handler)
	c.pending = r
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pending == r {
			c.pending = nil
		}
		c.mu.Unlock()
	}()

	control, err := conn.Characteristic(set.Service, set.Control)
	if err != nil {
		return err
	}
	packet, err := crypto.Encrypt(protocol.MarshalControl(cmd, payload), session, c.keys)
	if err != nil {
		return fmt.Errorf("ble: encrypt %s: %w", cmd, err)
	}

	slog.Debug("[BLE] sending command", "command", cmd, "payload_len", len(payload))
	if err := control.Write(packet, true); err != nil {
		return fmt.Errorf("ble: write %s: %w", cmd, err)
	}

	if _, err := r.Wait(ctx, timeout, timeoutErr); err != nil {
		return err
	}
	return nil
}
