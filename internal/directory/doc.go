// Package directory answers one question for the profile service: is a
// named dependent service known?
//
// # Overview
//
// Every profile operation that names a service asks the directory first.
// The answer comes from one of two interchangeable implementations of the
// Directory interface, chosen once at startup:
//
//	┌────────────────┐        Exists(ctx, name)
//	│  Profile Store │ ─────────────────────────────┐
//	└────────────────┘                              │
//	                                 ┌──────────────┴──────────────┐
//	                                 │                             │
//	                          ┌──────▼──────┐               ┌──────▼──────┐
//	                          │  Registry   │               │   Client    │
//	                          │ (in-process)│               │   (HTTP)    │
//	                          └─────────────┘               └──────┬──────┘
//	                                                               │
//	                                                        ┌──────▼──────┐
//	                                                        │ directoryd  │
//	                                                        │ (Registry)  │
//	                                                        └─────────────┘
//
// # Core Components
//
// Registry: concurrency-safe set of Service descriptors
//   - Loaded from a YAML services file (JSON is accepted too)
//   - Register, Remove and List for administration
//   - Served over HTTP by cmd/directoryd
//
// Client: HTTP implementation of Directory
//   - POST /api/services/v1/exists with {"id": name}
//   - Tagged answers: {"type":"exists","value":bool} or {"type":"error","reason":...}
//   - Transport failures and error outcomes are both returned as errors
//
// Monitor: periodic /health probe of a remote directory
//   - Marks the directory unhealthy after 3 consecutive failures
//   - Recovers on the first successful probe
//
// # Services File
//
//	services:
//	  - name: mail
//	    addr: http://mail.internal:9000
//	  - name: chat
//
// # Thread Safety
//
// Registry, Client and Monitor are safe for concurrent use.
package directory
