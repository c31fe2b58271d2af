package domain

// Transport delivers serialized frames to live connections.
// Send is fire-and-forget: an unknown or dead connection is skipped silently.
type Transport interface {
	Send(conn ConnID, data []byte)
}
