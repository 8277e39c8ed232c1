// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import "fmt"

// Channel names one transport technology in the fixed catalog.
type Channel string

// The catalog, in global priority order. Priority ranks preference for
// carrying a session (bandwidth and reliability), not proximity
// evidence — nfc is the strongest presence signal and the last resort
// for actual traffic.
const (
	// ChannelFiber is fixed fiber with native IPv6.
	ChannelFiber Channel = "fiber"
	// ChannelWiFi is Wi-Fi 6E on the local premises network.
	ChannelWiFi Channel = "wifi6e"
	// ChannelCellular is the metro cellular data network.
	ChannelCellular Channel = "cellular"
	// ChannelBLE is Bluetooth Low Energy via the room bridge.
	ChannelBLE Channel = "ble"
	// ChannelPowerline is data over the building's electrical wiring.
	ChannelPowerline Channel = "powerline"
	// ChannelCoax is data over legacy coaxial runs (MoCA).
	ChannelCoax Channel = "coax"
	// ChannelWireline is legacy copper wireline (DSL-class).
	ChannelWireline Channel = "wireline"
	// ChannelLoRaWAN is the regional LoRaWAN uplink.
	ChannelLoRaWAN Channel = "lorawan"
	// ChannelHFRadio is long-range HF radio.
	ChannelHFRadio Channel = "hfradio"
	// ChannelNFC is NFC/UWB touch-range exchange via the panel bridge.
	ChannelNFC Channel = "nfc"
)

// String returns the channel name.
func (c Channel) String() string { return string(c) }

// MarshalText implements encoding.TextMarshaler.
func (c Channel) MarshalText() ([]byte, error) { return []byte(c), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Unknown channels
// are rejected so malformed wire input cannot introduce channels the
// catalog does not know.
func (c *Channel) UnmarshalText(data []byte) error {
	parsed, err := ParseChannel(string(data))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseChannel returns the catalog channel named by s, or
// ErrUnknownChannel.
func ParseChannel(s string) (Channel, error) {
	ch := Channel(s)
	if _, ok := catalogIndex[ch]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
	return ch, nil
}

// BandwidthClass buckets a channel's usable throughput.
type BandwidthClass uint8

const (
	BandwidthVeryLow BandwidthClass = iota
	BandwidthLow
	BandwidthMedium
	BandwidthHigh
	BandwidthVeryHigh
)

var bandwidthNames = [...]string{"very-low", "low", "medium", "high", "very-high"}

func (b BandwidthClass) String() string {
	if int(b) < len(bandwidthNames) {
		return bandwidthNames[b]
	}
	return fmt.Sprintf("bandwidth(%d)", uint8(b))
}

// RangeClass buckets how far a channel reaches.
type RangeClass uint8

const (
	RangeTouch RangeClass = iota
	RangeRoom
	RangeBuilding
	RangeMetro
	RangeRegional
	RangeGlobal
)

var rangeNames = [...]string{"touch", "room", "building", "metro", "regional", "global"}

func (r RangeClass) String() string {
	if int(r) < len(rangeNames) {
		return rangeNames[r]
	}
	return fmt.Sprintf("range(%d)", uint8(r))
}

// LatencyClass buckets round-trip latency. Lower is better; presence
// ties between endpoints resolve toward the lower class.
type LatencyClass uint8

const (
	LatencyUltra LatencyClass = iota
	LatencyLow
	LatencyMedium
	LatencyHigh
)

var latencyNames = [...]string{"ultra", "low", "medium", "high"}

func (l LatencyClass) String() string {
	if int(l) < len(latencyNames) {
		return latencyNames[l]
	}
	return fmt.Sprintf("latency(%d)", uint8(l))
}

// Kind says how the daemon reaches a channel's listener.
type Kind uint8

const (
	// KindIP channels expose a directly dialable address.
	KindIP Kind = iota
	// KindBrokered channels sit behind NAT or an uplink carrier and
	// are reached through the rendezvous signaler.
	KindBrokered
	// KindBridge channels (BLE, NFC, powerline, coax) terminate in a
	// platform bridge on the endpoint that exposes a dial address on
	// the bridge's behalf.
	KindBridge
)

var kindNames = [...]string{"ip", "brokered", "bridge"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Descriptor is one catalog entry.
type Descriptor struct {
	Channel   Channel
	Priority  int
	Bandwidth BandwidthClass
	Range     RangeClass
	Latency   LatencyClass
	Kind      Kind

	// Confidence weights an ack on this channel as proximity evidence,
	// in [0, 1]. An ack over nfc proves the principal is touching the
	// endpoint; an ack over fiber proves only that the endpoint is on
	// the network somewhere.
	Confidence float64

	// TimeoutScale multiplies the configured base ack timeout for this
	// channel. High-latency channels get proportionally longer to
	// answer before a probe counts as a miss.
	TimeoutScale int
}

// catalog lists every channel in ascending priority order.
var catalog = []Descriptor{
	{ChannelFiber, 0, BandwidthVeryHigh, RangeGlobal, LatencyUltra, KindIP, 0.30, 1},
	{ChannelWiFi, 1, BandwidthVeryHigh, RangeBuilding, LatencyUltra, KindIP, 0.80, 1},
	{ChannelCellular, 2, BandwidthHigh, RangeMetro, LatencyLow, KindBrokered, 0.35, 2},
	{ChannelBLE, 3, BandwidthLow, RangeRoom, LatencyLow, KindBridge, 0.90, 2},
	{ChannelPowerline, 4, BandwidthMedium, RangeBuilding, LatencyMedium, KindBridge, 0.75, 4},
	{ChannelCoax, 5, BandwidthMedium, RangeBuilding, LatencyMedium, KindBridge, 0.75, 4},
	{ChannelWireline, 6, BandwidthLow, RangeMetro, LatencyMedium, KindIP, 0.55, 4},
	{ChannelLoRaWAN, 7, BandwidthVeryLow, RangeRegional, LatencyHigh, KindBrokered, 0.40, 8},
	{ChannelHFRadio, 8, BandwidthVeryLow, RangeGlobal, LatencyHigh, KindBrokered, 0.20, 8},
	{ChannelNFC, 9, BandwidthLow, RangeTouch, LatencyUltra, KindBridge, 1.00, 1},
}

var catalogIndex = buildCatalogIndex()

func buildCatalogIndex() map[Channel]Descriptor {
	index := make(map[Channel]Descriptor, len(catalog))
	for _, d := range catalog {
		index[d.Channel] = d
	}
	return index
}

// Describe returns the catalog entry for ch.
func Describe(ch Channel) (Descriptor, bool) {
	d, ok := catalogIndex[ch]
	return d, ok
}

// Channels returns every catalog channel in ascending priority order.
func Channels() []Channel {
	out := make([]Channel, len(catalog))
	for i, d := range catalog {
		out[i] = d.Channel
	}
	return out
}
