/*
Package device implements the exclusive-access LED device.

A Controller sequences the host collaborators through a Ladder when it is
initialized, hands out at most one session at a time through an AccessGate,
and serves the open/read/write/release contract:

	open    claim the gate, count the session, rewrite the status message
	read    copy the status message from an offset
	write   stage up to CommandBufferSize bytes, act on the first one
	release free the gate

The status message reads "I have been read N times.\n". Writing '1' drives
the line on and '0' drives it off; any other first byte is logged and
ignored.

Lifecycle:

	Uninitialized --Init--> Ready --Open--> Open --Close--> Ready --Shutdown--> Uninitialized

Ladder steps, in order: identity, class, node, line-claim, line-config. A
failed step releases the steps before it in reverse order; Shutdown releases
all of them the same way and leaves the line low.
*/
package device
