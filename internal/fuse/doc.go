/*
Package fuse publishes devices as files through FUSE.

Each class is its own mount at <mount_root>/<class>. The class root is a
directory whose children are device nodes created with CreateNode:

	/run/ledgate/class/
	└── jimbob_led/            ← FUSE mount (CreateClass)
	    └── jimbob_led         ← device node, rdev = major:minor (CreateNode)

# File Operations

Every file operation on a device node is routed to the types.DeviceFile passed
to Bind:

	open(2)    → DeviceFile.Open     EBUSY while another caller holds the device
	read(2)    → DeviceFile.Read     message bytes from the file offset
	write(2)   → DeviceFile.Write    count of bytes accepted
	close(2)   → DeviceFile.Close

Nodes are opened with FOPEN_DIRECT_IO so every read reaches the device. Device
errors map to errno values: DEVICE_BUSY → EBUSY, IO_FAULT → EFAULT,
NOT_INITIALIZED → ENODEV and everything else → EIO.

The kernel sends RELEASE asynchronously once the last descriptor is closed,
so DeviceFile.Close can run after close(2) has already returned. A process
that closes the node and reopens it straight away may briefly get EBUSY and
should retry. Unmounting a class is likewise retried while the mount reports
EBUSY.

# Detached Mode

With Options.Detached the class trees are built in memory and never mounted.
Dry runs and tests use this.

# Usage

	publisher, err := fuse.NewPublisher(fuse.Options{
		MountRoot: "/run/ledgate/class",
		NodeMode:  0666,
	}, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	publisher.Bind(controller)
*/
package fuse
