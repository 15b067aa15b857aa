// Package storage keeps the call history shown on the index page and the
// webhook dedup keys that survive restarts.
package storage
