// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"github.com/pion/webrtc/v4"
)

// ICEConfig holds ICE server configuration for WebRTC PeerConnections.
type ICEConfig struct {
	// Servers is the list of STUN servers to use during candidate
	// gathering. Order matters: pion tries them in sequence.
	Servers []webrtc.ICEServer
}

// ICEConfigFromSTUN builds an ICEConfig from STUN server URLs as they
// appear in the daemon configuration (e.g. "stun:stun.example.org:3478").
// An empty list yields host candidates only, which is sufficient for
// same-machine and same-LAN use.
func ICEConfigFromSTUN(urls []string) ICEConfig {
	if len(urls) == 0 {
		return ICEConfig{}
	}
	return ICEConfig{
		Servers: []webrtc.ICEServer{
			{URLs: append([]string(nil), urls...)},
		},
	}
}
