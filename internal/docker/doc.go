// Package docker runs trainer containers through the Docker Engine SDK.
//
// This package handles:
//   - Docker client initialization with automatic socket detection
//     (Linux, macOS, Windows) and a readiness wait with backoff
//   - Run labels: every trainer container carries its run ID, profile,
//     mode and model directory as "svbrdf.*" labels, which is all the
//     "ps", "stop" and "rm" commands need
//   - Container lifecycle: image pull, create, start, log streaming,
//     wait, stop, remove
//
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled for broad compatibility.
package docker
