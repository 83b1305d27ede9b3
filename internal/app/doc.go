// Package app wires the MARSLOG web server together and manages its
// lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration from defaults, file and environment
//	2. Initialize logging and OpenTelemetry
//	3. Open the trial record store (key files or bbolt)
//	4. Build the validation delegate, license validator and access guard
//	5. Set up middleware, the license API and the guarded page routes
//	6. Configure the HTTP server
//
// # Routes
//
//	/metrics          Prometheus scrape endpoint (when metrics are enabled)
//	/api/health/*     liveness and readiness probes
//	/api/version      build and runtime version
//	/api/license/*    license and trial administration
//	/ui/*             dashboard pages, behind the access guard
//
// # Graceful Shutdown
//
// Run handles SIGINT and SIGTERM: in-flight requests complete, the record
// store is closed and telemetry is flushed. The package never calls
// os.Exit; main decides the exit code.
package app
