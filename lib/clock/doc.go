// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that every
// time-driven loop in tether can be tested deterministically.
//
// Production code never calls time.Now, time.After, time.NewTicker,
// time.AfterFunc, or time.Sleep directly. It accepts a Clock (usually
// as a struct field) and calls the equivalent methods on it. Binaries
// wire Real(); tests wire Fake() and drive time by hand.
//
// # Wiring pattern
//
//	type Engine struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In a binary:
//
//	engine := heartbeat.NewEngine(..., clock.Real(), ...)
//
// In a test:
//
//	c := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
//	engine := heartbeat.NewEngine(..., c, ...)
//	// start the probe loops ...
//	c.WaitForTimers(2)          // both loops have registered tickers
//	c.Advance(2 * time.Second)  // fire one probe cycle, deterministically
//
// # Synchronizing with goroutines under test
//
// A FakeClock registers a pending waiter whenever a goroutine calls
// After, AfterFunc, NewTicker, or Sleep on it. WaitForTimers(n) blocks
// until n waiters are pending, which removes the race between "the
// loop has reached its wait point" and "the test advances time". Tests
// built on this pattern need no real sleeps at all.
package clock
