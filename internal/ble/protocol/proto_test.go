package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestMarshalControl(t *testing.T) {
	got := MarshalControl(CommandSwitch, []byte{100})
	// protocol 5, command 20 LE, size 1 LE, payload
	want := []byte{0x05, 0x14, 0x00, 0x01, 0x00, 0x64}
	if !bytes.Equal(got, want) {
		t.Errorf("MarshalControl(switch, 100) = %x, want %x", got, want)
	}
}

func TestMarshalControlEmpty(t *testing.T) {
	got := MarshalControl(CommandReset, nil)
	want := []byte{0x05, 0x0a, 0x00, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("MarshalControl(reset) = %x, want %x", got, want)
	}
}

func TestParseResult(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    *ResultPacket
		wantErr bool
	}{
		{
			name: "success no payload",
			data: []byte{0x05, 0x14, 0x00, 0x00, 0x00, 0x00, 0x00},
			want: &ResultPacket{Protocol: 5, Command: CommandSwitch, Code: ResultSuccess, Payload: []byte{}},
		},
		{
			name: "payload with cipher padding",
			data: []byte{0x05, 0x02, 0x00, 0x00, 0x00, 0x02, 0x00, 0xAA, 0xBB, 0x00, 0x00, 0x00},
			want: &ResultPacket{Protocol: 5, Command: CommandGetState, Code: ResultSuccess, Payload: []byte{0xAA, 0xBB}},
		},
		{
			name: "rejected",
			data: []byte{0x05, 0x17, 0x00, 0x30, 0x00, 0x00, 0x00},
			want: &ResultPacket{Protocol: 5, Command: CommandRelay, Code: ResultNoAccess, Payload: []byte{}},
		},
		{
			name:    "short header",
			data:    []byte{0x05, 0x14, 0x00, 0x00},
			wantErr: true,
		},
		{
			name:    "payload size beyond data",
			data:    []byte{0x05, 0x14, 0x00, 0x00, 0x00, 0x08, 0x00, 0x01},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResult(tt.data)
			if tt.wantErr {
				if !errors.Is(err, ErrTruncated) {
					t.Fatalf("ParseResult() error = %v, want ErrTruncated", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseResult() error = %v", err)
			}
			if got.Protocol != tt.want.Protocol || got.Command != tt.want.Command || got.Code != tt.want.Code {
				t.Errorf("ParseResult() = %+v, want %+v", got, tt.want)
			}
			if !bytes.Equal(got.Payload, tt.want.Payload) {
				t.Errorf("Payload = %x, want %x", got.Payload, tt.want.Payload)
			}
		})
	}
}

func TestMarshalResultParses(t *testing.T) {
	raw := MarshalResult(CommandMicroappUpload, ResultWaitForSuccess, []byte{1, 2})
	got, err := ParseResult(raw)
	if err != nil {
		t.Fatalf("ParseResult() error = %v", err)
	}
	if got.Command != CommandMicroappUpload || got.Code != ResultWaitForSuccess {
		t.Errorf("got command=%s code=%s", got.Command, got.Code)
	}
}

func TestCodeStrings(t *testing.T) {
	if got := ResultNoAccess.String(); got != "no_access" {
		t.Errorf("ResultNoAccess.String() = %q", got)
	}
	if got := ResultCode(999).String(); got != "result(999)" {
		t.Errorf("ResultCode(999).String() = %q", got)
	}
	if got := CommandType(77).String(); got != "command(77)" {
		t.Errorf("CommandType(77).String() = %q", got)
	}
}

func TestParseSessionData(t *testing.T) {
	block := []byte{
		0x01, 0x02, 0x03, 0x04, 0x05, // nonce
		0xCA, 0xFE, 0xBE, 0xEF, // validation key
		0x05,       // protocol
		0x00, 0x00, // reserved
		0xBE, 0xBA, 0xFE, 0xCA, // checksum LE
	}
	sd, err := ParseSessionData(block)
	if err != nil {
		t.Fatalf("ParseSessionData() error = %v", err)
	}
	if !bytes.Equal(sd.Nonce, block[0:5]) {
		t.Errorf("Nonce = %x", sd.Nonce)
	}
	if !bytes.Equal(sd.ValidationKey, block[5:9]) {
		t.Errorf("ValidationKey = %x", sd.ValidationKey)
	}
	if sd.Protocol != 5 {
		t.Errorf("Protocol = %d, want 5", sd.Protocol)
	}
	if !bytes.Equal(MarshalSessionData(sd), block) {
		t.Errorf("MarshalSessionData() = %x, want %x", MarshalSessionData(sd), block)
	}
}

func TestParseSessionDataBadChecksum(t *testing.T) {
	block := make([]byte, SessionDataSize)
	if _, err := ParseSessionData(block); !errors.Is(err, ErrSessionChecksum) {
		t.Errorf("ParseSessionData() error = %v, want ErrSessionChecksum", err)
	}
	if _, err := ParseSessionData(block[:10]); !errors.Is(err, ErrTruncated) {
		t.Errorf("ParseSessionData(short) error = %v, want ErrTruncated", err)
	}
}

func TestStateValue(t *testing.T) {
	get := MarshalStateGet(StateSwitchState, 0)
	if !bytes.Equal(get, []byte{0x81, 0x00, 0x00, 0x00, 0x00, 0x00}) {
		t.Errorf("MarshalStateGet() = %x", get)
	}
	v, err := StateValue(append(get, 0xE4))
	if err != nil {
		t.Fatalf("StateValue() error = %v", err)
	}
	s := SwitchState(v[0])
	if !s.Relay() || s.Dimmer() != 100 {
		t.Errorf("SwitchState(0xE4) = %s, want relay on dimmer 100", s)
	}
	if _, err := StateValue([]byte{1, 2}); !errors.Is(err, ErrTruncated) {
		t.Errorf("StateValue(short) error = %v, want ErrTruncated", err)
	}
}

func TestMarshalMicroappUpload(t *testing.T) {
	got := MarshalMicroappUpload(2, 256, []byte{0xAA, 0xBB, 0xCC, 0xDD})
	want := []byte{MicroappProtocol, 0x02, 0x00, 0x01, 0xAA, 0xBB, 0xCC, 0xDD}
	if !bytes.Equal(got, want) {
		t.Errorf("MarshalMicroappUpload() = %x, want %x", got, want)
	}
}

func TestParseMicroappInfo(t *testing.T) {
	payload := []byte{1, 4, 0x00, 0x80, 0x80, 0x00, 0x00, 0x04, 0, 3, 0xEE}
	info, err := ParseMicroappInfo(payload)
	if err != nil {
		t.Fatalf("ParseMicroappInfo() error = %v", err)
	}
	if info.MaxApps != 4 || info.MaxAppSize != 0x8000 || info.MaxChunkSize != 128 || info.MaxRAMUsage != 1024 {
		t.Errorf("ParseMicroappInfo() = %+v", info)
	}
	if info.SDKMinor != 3 || !bytes.Equal(info.Apps, []byte{0xEE}) {
		t.Errorf("ParseMicroappInfo() sdk/apps = %d %x", info.SDKMinor, info.Apps)
	}
	if _, err := ParseMicroappInfo(payload[:4]); !errors.Is(err, ErrTruncated) {
		t.Errorf("ParseMicroappInfo(short) error = %v, want ErrTruncated", err)
	}
}
