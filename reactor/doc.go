// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness poller each event loop blocks on:
// level-triggered epoll with an eventfd wakeup on Linux, a stub elsewhere.
package reactor
