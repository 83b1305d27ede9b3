// Package config provides centralized configuration management for MARSLOG.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file
//	3. Default values (lowest priority)
//
// The file is the one named by MARSLOG_CONFIG, or else the first of
// config.yaml and configs/config.yaml that exists.
//
// # Environment Variables
//
// All environment variables follow the pattern MARSLOG_<SECTION>_<KEY>:
//
//	MARSLOG_SERVER_PORT=8080
//	MARSLOG_LOGGING_LEVEL=debug
//	MARSLOG_LICENSE_TRIAL_DIRS=/app/data,/srv/marslog/data
//	MARSLOG_LICENSE_STORE=bolt
//	MARSLOG_LICENSE_DELEGATE_TIMEOUT=10s
//
// List values are comma separated.
//
// # Candidate Paths
//
// Every path list the license subsystem searches lives in LicenseConfig:
// the license artifact search path, the trial record directories, the
// generic fallback directories and the mirror path. Relative entries are
// anchored at the executable directory.
package config
