package nbiot

import "time"

// Hooks and aliases for the external test package.

// StubSleep replaces the settle and transfer waits of a Hat with fn so
// tests run instantly and can record the requested durations.
func StubSleep(h *Hat, fn func(time.Duration)) {
	h.channel.sleep = fn
}

// StubChannelSleep replaces the settle wait of a bare Channel.
func StubChannelSleep(c *Channel, fn func(time.Duration)) {
	c.sleep = fn
}

var (
	UploadWait  = uploadWait
	PublishWait = publishWait
)
