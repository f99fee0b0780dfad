// Package port finds free TCP ports on the host for the tensorboard
// dashboard that reads the trainer's statistics.
//
// Availability is checked with net.Listen, asking the OS directly
// rather than parsing /proc/net/* or calling lsof/ss. Ports are probed
// sequentially from the start of a configured Range so the dashboard
// lands on the same port across invocations when it is free.
package port
