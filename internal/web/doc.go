// Package web serves the dial-a-joke HTTP surface: health and info
// probes, the scheduling page and form, the Telnyx webhook and an optional
// pprof mount.
package web
