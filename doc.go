// Package stampdb is an embedded time-series store for NOR-flash devices:
// it appends (series, timestamp_ms, value) samples, quantizes and packs
// them into 256 B blocks, and publishes those blocks into a cyclic ring of
// 4 KiB segments using a header-last scheme that survives a power cut
// mid-write. Recovery, retention GC, and range/latest queries are built on
// top of that ring.
//
// Open requires a platform.Flash and platform.Clock implementation; this
// package does not talk to hardware directly (see package platform). For
// tests and local experimentation, internal/simflash provides an in-memory
// platform.Flash.
package stampdb
