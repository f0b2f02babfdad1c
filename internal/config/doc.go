// Package config handles the HCL configuration of the netstate CLI and
// daemon.
//
// # Overview
//
// A configuration names the desired state document, the namespace to
// manage and how applies are guarded:
//
//	state_file = "/etc/netstate/desired.yml"
//
//	checkpoint {
//	  backend = "local"   # local | networkmanager | none
//	  timeout = "60s"
//	}
//
//	verify {
//	  retries       = 5
//	  interval      = "1s"
//	  probe_targets = ["192.0.2.1"]
//	}
//
//	daemon {
//	  interval       = "5m"
//	  metrics_listen = ":9469"
//	  watch          = true
//	}
//
// Values may reference the process environment as env.NAME, for example
// netns = env.NETSTATE_NETNS.
//
// Unset fields take the values of [Default]. [LoadFile] validates the
// result; durations must parse with time.ParseDuration and be positive.
//
// # Schema Versioning
//
// Configs may carry a schema_version field. Versions whose major number
// is not in [SupportedVersions] are rejected.
package config
