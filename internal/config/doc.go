/*
Package config loads the ledgate daemon configuration.

Sources, lowest priority first:

	compiled-in defaults   NewDefault
	YAML file              LoadFromFile
	environment            LoadFromEnv (LEDGATE_*)
	command-line flags     applied by cmd/ledgated

Example file:

	global:
	  log_level: INFO
	  log_format: json
	device:
	  name: jimbob_led
	  class_name: jimbob_led
	  major: 0            # 0 selects a dynamic major
	  minor: 0
	  count: 1
	line:
	  driver: gpiocdev    # gpiocdev, sysfs or sim
	  chip: gpiochip0
	  id: "535"
	  label: GREEN LED
	namespace:
	  run_dir: /run/ledgate
	  mount_root: /run/ledgate/class
	monitoring:
	  metrics:
	    enabled: true
	    port: 9108
	  api:
	    enabled: true
	    address: 127.0.0.1:8108

Validate rejects unknown drivers and log levels, inverted dynamic major
ranges and any device settings the controller would refuse.
ControllerConfig derives the device.Config handed to the controller.
*/
package config
