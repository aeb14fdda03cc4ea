package remoterelay

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/sabhiram/go-wol/wol"
	"golang.org/x/sync/errgroup"
)

// Wake-on-LAN defaults.
const (
	DefaultBroadcastAddress = "255.255.255.255"
	DefaultWakePort         = 9
)

// Waker sends one wake request. An empty broadcast means the waker's default.
type Waker interface {
	Wake(ctx context.Context, mac, broadcast string) error
}

// TurnOn wakes every distinct MAC. Blank entries are dropped and duplicates
// removed exactly (after trimming), preserving order. The sends run
// concurrently; the first failure is returned.
func TurnOn(ctx context.Context, waker Waker, macs []string, broadcast string) (int, error) {
	unique := make([]string, 0, len(macs))
	seen := make(map[string]struct{}, len(macs))
	for _, mac := range macs {
		mac = strings.TrimSpace(mac)
		if mac == "" {
			continue
		}
		if _, dup := seen[mac]; dup {
			continue
		}
		seen[mac] = struct{}{}
		unique = append(unique, mac)
	}
	if len(unique) == 0 {
		return 0, ErrNoMACAddresses
	}

	broadcast = strings.TrimSpace(broadcast)
	g, gctx := errgroup.WithContext(ctx)
	for _, mac := range unique {
		g.Go(func() error {
			if err := waker.Wake(gctx, mac, broadcast); err != nil {
				return fmt.Errorf("waking %s: %w", mac, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(unique), nil
}

// canonicalMAC turns bare 12-digit hex into colon form. Anything else is
// passed through for wol.New to accept or reject.
func canonicalMAC(s string) string {
	s = strings.TrimSpace(s)
	if len(s) != 12 || strings.ContainsAny(s, ":-.") {
		return s
	}
	pairs := make([]string, 0, 6)
	for i := 0; i < len(s); i += 2 {
		pairs = append(pairs, s[i:i+2])
	}
	return strings.Join(pairs, ":")
}

// magicPacket builds the wake frame for mac.
func magicPacket(mac string) ([]byte, error) {
	mp, err := wol.New(canonicalMAC(mac))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMAC, strings.TrimSpace(mac))
	}
	packet, err := mp.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding magic packet: %w", err)
	}
	return packet, nil
}

// UDPWaker sends magic packets from the bridge host.
type UDPWaker struct {
	// Broadcast is used when a call passes none.
	Broadcast string
	Port      int
}

// NewUDPWaker returns a waker with defaults filled in.
func NewUDPWaker(broadcast string, port int) *UDPWaker {
	if strings.TrimSpace(broadcast) == "" {
		broadcast = DefaultBroadcastAddress
	}
	if port <= 0 {
		port = DefaultWakePort
	}
	return &UDPWaker{Broadcast: broadcast, Port: port}
}

// Wake sends one magic packet for mac.
func (w *UDPWaker) Wake(ctx context.Context, mac, broadcast string) error {
	packet, err := magicPacket(mac)
	if err != nil {
		return err
	}
	if broadcast == "" {
		broadcast = w.Broadcast
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", net.JoinHostPort(broadcast, strconv.Itoa(w.Port)))
	if err != nil {
		return fmt.Errorf("opening wake socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("sending magic packet: %w", err)
	}
	return nil
}

// JSONPublisher is the slice of the MQTT client MQTTWaker needs.
type JSONPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// wakeRequest is the MQTT body handed to the external wake utility.
type wakeRequest struct {
	MAC              string `json:"mac"`
	BroadcastAddress string `json:"broadcast_address,omitempty"`
}

// MQTTWaker hands wake requests to an external network utility over MQTT.
type MQTTWaker struct {
	Publisher JSONPublisher
	Topic     string
}

// Wake publishes one request. The MAC is validated locally first.
func (w *MQTTWaker) Wake(_ context.Context, mac, broadcast string) error {
	if _, err := wol.New(canonicalMAC(mac)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidMAC, strings.TrimSpace(mac))
	}
	return w.Publisher.PublishJSON(w.Topic, wakeRequest{MAC: mac, BroadcastAddress: broadcast}, false)
}
