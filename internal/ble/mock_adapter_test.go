package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/stonectl/internal/ble/crypto"
	"github.com/chaz8081/stonectl/internal/ble/protocol"
)

type mockWrite struct {
	data         []byte
	withResponse bool
}

// mockCharacteristic records writes and allows subscribing.
type mockCharacteristic struct {
	mu       sync.Mutex
	value    []byte
	readErr  error
	writes   []mockWrite
	callback func([]byte)
	// onWrite runs after a write is recorded, outside the lock.
	onWrite func(data []byte)
}

func (c *mockCharacteristic) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	return append([]byte(nil), c.value...), nil
}

func (c *mockCharacteristic) Write(data []byte, withResponse bool) error {
	c.mu.Lock()
	cp := append([]byte(nil), data...)
	c.writes = append(c.writes, mockWrite{data: cp, withResponse: withResponse})
	hook := c.onWrite
	c.mu.Unlock()
	if hook != nil {
		hook(cp)
	}
	return nil
}

func (c *mockCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	return nil
}

func (c *mockCharacteristic) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = nil
	return nil
}

// SimulateNotification sends a notification to the subscriber.
func (c *mockCharacteristic) SimulateNotification(data []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

func (c *mockCharacteristic) writeLog() []mockWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mockWrite(nil), c.writes...)
}

// mockConnection simulates a BLE connection with a service table.
type mockConnection struct {
	mu           sync.Mutex
	chars        map[string]*mockCharacteristic
	mtu          int
	disconnectCb func()
	disconnected bool
}

func newMockConnection() *mockConnection {
	return &mockConnection{
		chars: make(map[string]*mockCharacteristic),
		mtu:   defaultATTMTU,
	}
}

// add puts a characteristic into the service table.
func (c *mockConnection) add(serviceUUID, charUUID string) *mockCharacteristic {
	ch := &mockCharacteristic{}
	c.chars[charKey(serviceUUID, charUUID)] = ch
	return ch
}

func (c *mockConnection) char(serviceUUID, charUUID string) *mockCharacteristic {
	return c.chars[charKey(serviceUUID, charUUID)]
}

func (c *mockConnection) HasCharacteristic(serviceUUID, charUUID string) bool {
	_, ok := c.chars[charKey(serviceUUID, charUUID)]
	return ok
}

func (c *mockConnection) Characteristic(serviceUUID, charUUID string) (Characteristic, error) {
	ch, ok := c.chars[charKey(serviceUUID, charUUID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, charUUID)
	}
	return ch, nil
}

func (c *mockConnection) MTU() int { return c.mtu }

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	c.disconnected = true
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *mockConnection) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// mockAdapter simulates the BLE adapter. Each Connect call takes the next
// connection from newConn.
type mockAdapter struct {
	mu          sync.Mutex
	newConn     func() *mockConnection
	connectErrs []error // consumed before connections are handed out
	connects    int
	connection  *mockConnection // most recent connection for test assertions
	ads         []Advertisement
}

func newMockAdapter(newConn func() *mockConnection) *mockAdapter {
	return &mockAdapter{newConn: newConn}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(ctx context.Context, fn func(Advertisement)) error {
	for _, adv := range a.ads {
		fn(adv)
	}
	<-ctx.Done()
	return nil
}

func (a *mockAdapter) Connect(_ context.Context, _ string) (Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	if len(a.connectErrs) > 0 {
		err := a.connectErrs[0]
		a.connectErrs = a.connectErrs[1:]
		return nil, err
	}
	a.connection = a.newConn()
	return a.connection, nil
}

// latestConnection returns the most recently created connection (thread-safe).
func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection
}

func (a *mockAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// Test keys and session material shared by the simulated stones.
var (
	testKeys = &crypto.Keyset{
		Admin:  []byte("adminKeyForCrown"),
		Member: []byte("memberKeyForHome"),
		Basic:  []byte("basicKeyForOther"),
	}
	testNonce         = []byte{0x10, 0x20, 0x30, 0x40, 0x50}
	testValidationKey = []byte{0xCA, 0xFE, 0xBE, 0xEF}
	testSessionKey    = []byte("setupSessionKey!")
)

// stoneResponder returns the result messages a stone sends for a command.
type stoneResponder func(cmd protocol.CommandType, payload []byte) [][]byte

// mockStone wires a mockConnection to behave like a stone: it serves the
// session data block and answers control writes through the responder.
type mockStone struct {
	t       *testing.T
	conn    *mockConnection
	control *mockCharacteristic
	result  *mockCharacteristic
	session *crypto.Session
	respond stoneResponder

	mu       sync.Mutex
	commands []protocol.CommandType
	payloads [][]byte
}

func newMockStone(t *testing.T, setup bool, respond stoneResponder) *mockStone {
	t.Helper()
	s := &mockStone{
		t:       t,
		conn:    newMockConnection(),
		respond: respond,
		session: &crypto.Session{
			Nonce:         testNonce,
			ValidationKey: testValidationKey,
			Protocol:      protocol.ProtocolVersion,
			Level:         crypto.LevelBasic,
		},
	}
	set := normalServiceSet
	blockKey := testKeys.Basic
	if setup {
		set = setupServiceSet
		blockKey = testSessionKey
		s.session.Level = crypto.LevelSetup
		s.session.SessionKey = testSessionKey
		s.conn.add(SetupServiceUUID, SessionKeyCharUUID).value = testSessionKey
	}

	block, err := crypto.EncryptECB(blockKey, protocol.MarshalSessionData(&protocol.SessionData{
		Nonce:         testNonce,
		ValidationKey: testValidationKey,
		Protocol:      protocol.ProtocolVersion,
	}))
	if err != nil {
		t.Fatalf("EncryptECB() error = %v", err)
	}
	s.conn.add(set.Service, set.SessionData).value = block
	s.control = s.conn.add(set.Service, set.Control)
	s.result = s.conn.add(set.Service, set.Result)
	s.control.onWrite = s.handleControl
	return s
}

func (s *mockStone) handleControl(data []byte) {
	plain, err := crypto.Decrypt(data, s.session, testKeys)
	if err != nil {
		s.t.Errorf("stone: decrypt control packet: %v", err)
		return
	}
	cmd := protocol.CommandType(uint16(plain[1]) | uint16(plain[2])<<8)
	size := int(plain[3]) | int(plain[4])<<8
	payload := append([]byte(nil), plain[5:5+size]...)

	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.payloads = append(s.payloads, payload)
	s.mu.Unlock()

	if s.respond == nil {
		return
	}
	for _, msg := range s.respond(cmd, payload) {
		s.notify(msg)
	}
}

// notify encrypts msg and sends it in indexed fragments.
func (s *mockStone) notify(msg []byte) {
	sealed, err := crypto.Encrypt(msg, s.session, testKeys)
	if err != nil {
		s.t.Errorf("stone: encrypt result: %v", err)
		return
	}
	sendFragments(s.result, sealed, 19)
}

func sendFragments(ch *mockCharacteristic, data []byte, size int) {
	chunks := protocol.ChunkBytes(data, size)
	for i, chunk := range chunks {
		index := byte(i)
		if i == len(chunks)-1 {
			index = lastFragmentIndex
		}
		ch.SimulateNotification(append([]byte{index}, chunk...))
	}
}

func (s *mockStone) lastCommand() (protocol.CommandType, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.commands) == 0 {
		return 0, nil
	}
	return s.commands[len(s.commands)-1], s.payloads[len(s.payloads)-1]
}

func (s *mockStone) commandCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commands)
}

// reply answers every command with a single result of code.
func reply(code protocol.ResultCode, payload []byte) stoneResponder {
	return func(cmd protocol.CommandType, _ []byte) [][]byte {
		return [][]byte{protocol.MarshalResult(cmd, code, payload)}
	}
}

func testOptions() ClientOptions {
	opts := DefaultClientOptions()
	opts.CommandTimeout = 200 * time.Millisecond
	opts.StreamTimeout = 200 * time.Millisecond
	opts.ConnectAttempts = 1
	return opts
}

// connectedClient returns a client connected to stone.
func connectedClient(t *testing.T, stone *mockStone) (*Client, *mockAdapter) {
	t.Helper()
	adapter := newMockAdapter(func() *mockConnection { return stone.conn })
	client := NewClient(adapter, testKeys, testOptions())
	if err := client.Connect(context.Background(), "AA:BB:CC:DD:EE:FF", false); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return client, adapter
}

var errMockConnect = errors.New("mock: connect failed")

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
}

func TestMockConnectionImplementsInterface(t *testing.T) {
	var _ Connection = (*mockConnection)(nil)
}

func TestMockCharacteristicImplementsInterface(t *testing.T) {
	var _ Characteristic = (*mockCharacteristic)(nil)
}
