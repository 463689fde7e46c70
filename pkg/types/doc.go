/*
Package types provides the core interfaces and data structures shared by the ledgate packages.

It defines the contracts between the device controller and the host-facing
collaborators it sequences, so each side can be replaced or faked in tests.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│        Transports (internal/fuse, pkg/api)  │
	│               types.DeviceFile              │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│       Device controller (internal/device)   │
	│   ladder · gate · counter · command channel │
	└─────────────────────────────────────────────┘
	        │            │            │         │
	┌───────┴────┐ ┌─────┴────┐ ┌─────┴────┐ ┌──┴──────┐
	│ Registrar  │ │Publisher │ │LineDriver│ │Transfer │
	└────────────┘ └──────────┘ └──────────┘ └─────────┘

# Core Interfaces

Registrar:
Reserves a device identity, either under an explicit major number or under
any free one.

Publisher:
Creates the class under which the device is visible and the node that callers
open.

LineDriver:
Claims, configures and drives a binary output line.

Transfer:
Copies bytes across the caller boundary. DirectTransfer is the in-process
implementation.

DeviceFile:
The open/read/write/release contract every transport exposes.
*/
package types
