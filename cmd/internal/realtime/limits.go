package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit). Lockgate envelopes are tiny.
	maxFrameBytes = 8 << 10 // 8 KiB

	// Max region label length (bytes) accepted in hello.
	maxRegionLabel = 64
)

const (
	// Heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window). Activity pings are frequent.
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
