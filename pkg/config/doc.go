// Package config loads the polling service configuration.
//
// The configuration is a single YAML document read once at startup:
//
//	log_level: info
//	shutdown_grace: 10s
//	emitter:
//	  queue_capacity: 256
//	  write_timeout: 5s
//	sinks:
//	  - type: file
//	    path: /var/lib/plcpoll/snapshots.plog
//	devices:
//	  - name: fx5u-line1
//	    host: 192.168.1.50
//	    protocol: slmp
//	    poll_interval: 5s
//	    backoff:
//	      base_delay: 1s
//	      max_delay: 30s
//	    registers:
//	      - address: D100
//	        words: 10
//	        label: temperatures
//
// Durations use Go syntax ("250ms", "5s"). Missing values take the package
// defaults; a negative backoff jitter disables jitter. Validation reports
// the first invalid field as a *FieldError naming its path.
//
// The values returned by Load are not modified afterwards; they are passed
// by value into the sessions and the scheduler.
package config
