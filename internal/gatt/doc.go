// Package gatt provides the characteristic registry, value cells and access
// dispatcher that back the peripheral's GATT services.
//
// This package implements the host-stack independent half of a GATT server:
//   - Service tables built once and registered into a bounded Registry
//   - One ValueCell per characteristic, guarded by a short critical section
//   - A single Dispatcher that resolves (characteristic, operation) pairs,
//     enforces access policy and length bounds, and calls write observers
//   - A Runtime that couples cell updates with change notifications
//
// Host stack adapters (see internal/host) translate their callbacks into
// Runtime.HandleAccess calls and receive change notifications through the
// Notifier interface.
package gatt
