package remoterelay

import (
	"bytes"
	"context"
	"errors"
	"net"
	"slices"
	"testing"
	"time"
)

func TestMagicPacket(t *testing.T) {
	for _, mac := range []string{"AA:BB:CC:DD:EE:FF", "aa-bb-cc-dd-ee-ff", "aabbccddeeff", " AA:BB:CC:DD:EE:FF "} {
		t.Run(mac, func(t *testing.T) {
			packet, err := magicPacket(mac)
			if err != nil {
				t.Fatalf("magicPacket() error = %v", err)
			}
			if len(packet) != 102 {
				t.Fatalf("len = %d, want 102", len(packet))
			}
			if !bytes.Equal(packet[:6], bytes.Repeat([]byte{0xFF}, 6)) {
				t.Errorf("header = %x", packet[:6])
			}
			want := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
			for i := range 16 {
				off := 6 + i*6
				if !bytes.Equal(packet[off:off+6], want) {
					t.Fatalf("repeat %d = %x", i, packet[off:off+6])
				}
			}
		})
	}
}

func TestMagicPacketInvalidMAC(t *testing.T) {
	for _, mac := range []string{"", "zz:zz:zz:zz:zz:zz", "01:23:45:67:89:ab:cd:ef", "zzbbccddeeff"} {
		if _, err := magicPacket(mac); !errors.Is(err, ErrInvalidMAC) {
			t.Errorf("magicPacket(%q) error = %v, want ErrInvalidMAC", mac, err)
		}
	}
}

func TestCanonicalMAC(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"aabbccddeeff", "aa:bb:cc:dd:ee:ff"},
		{" AABBCCDDEEFF ", "AA:BB:CC:DD:EE:FF"},
		{"AA:BB:CC:DD:EE:FF", "AA:BB:CC:DD:EE:FF"},
		{"aa-bb-cc-dd-ee-ff", "aa-bb-cc-dd-ee-ff"},
	}
	for _, tt := range tests {
		if got := canonicalMAC(tt.in); got != tt.want {
			t.Errorf("canonicalMAC(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTurnOnDeduplicates(t *testing.T) {
	w := &fakeWaker{}
	n, err := TurnOn(context.Background(), w, []string{"AA:BB:CC:DD:EE:FF", " AA:BB:CC:DD:EE:FF ", "", "11:22:33:44:55:66"}, "192.168.1.255")
	if err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if n != 2 {
		t.Errorf("woken = %d, want 2", n)
	}
	got := slices.Clone(w.woken)
	slices.Sort(got)
	if !slices.Equal(got, []string{"11:22:33:44:55:66", "AA:BB:CC:DD:EE:FF"}) {
		t.Errorf("woken = %v", got)
	}
	for _, b := range w.bcast {
		if b != "192.168.1.255" {
			t.Errorf("broadcast = %q", b)
		}
	}
}

func TestTurnOnNoMACs(t *testing.T) {
	w := &fakeWaker{}
	if _, err := TurnOn(context.Background(), w, []string{" ", ""}, ""); !errors.Is(err, ErrNoMACAddresses) {
		t.Errorf("error = %v, want ErrNoMACAddresses", err)
	}
	if len(w.woken) != 0 {
		t.Errorf("woken = %v, want none", w.woken)
	}
}

func TestTurnOnPropagatesError(t *testing.T) {
	w := &fakeWaker{err: errBoom}
	if _, err := TurnOn(context.Background(), w, []string{"AA:BB:CC:DD:EE:FF"}, ""); !errors.Is(err, errBoom) {
		t.Errorf("error = %v, want errBoom", err)
	}
}

func TestUDPWakerSendsPacket(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on UDP: %v", err)
	}
	defer conn.Close()
	port := conn.LocalAddr().(*net.UDPAddr).Port

	w := NewUDPWaker("127.0.0.1", port)
	if err := w.Wake(context.Background(), "AA:BB:CC:DD:EE:FF", ""); err != nil {
		t.Fatalf("Wake() error = %v", err)
	}

	buf := make([]byte, 256)
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() error = %v", err)
	}
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}
	want, _ := magicPacket("AA:BB:CC:DD:EE:FF")
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("received %d bytes, want the magic packet", n)
	}
}

func TestNewUDPWakerDefaults(t *testing.T) {
	w := NewUDPWaker(" ", 0)
	if w.Broadcast != DefaultBroadcastAddress || w.Port != DefaultWakePort {
		t.Errorf("NewUDPWaker() = %+v", w)
	}
}

type recordingPublisher struct {
	topic string
	body  any
}

func (p *recordingPublisher) PublishJSON(topic string, v any, _ bool) error {
	p.topic = topic
	p.body = v
	return nil
}

func TestMQTTWaker(t *testing.T) {
	pub := &recordingPublisher{}
	w := &MQTTWaker{Publisher: pub, Topic: "remoterelay/wol/send"}

	if err := w.Wake(context.Background(), "AA:BB:CC:DD:EE:FF", "10.0.0.255"); err != nil {
		t.Fatalf("Wake() error = %v", err)
	}
	if pub.topic != "remoterelay/wol/send" {
		t.Errorf("topic = %q", pub.topic)
	}
	req, ok := pub.body.(wakeRequest)
	if !ok || req.MAC != "AA:BB:CC:DD:EE:FF" || req.BroadcastAddress != "10.0.0.255" {
		t.Errorf("body = %#v", pub.body)
	}

	if err := w.Wake(context.Background(), "nope", ""); !errors.Is(err, ErrInvalidMAC) {
		t.Errorf("Wake(nope) error = %v, want ErrInvalidMAC", err)
	}
}
