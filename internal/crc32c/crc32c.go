// Package crc32c implements the Castagnoli CRC-32 variant StampDB uses to
// protect every on-flash record: block headers, block payloads, segment
// footers, and metadata sectors. It is a thin wrapper over the stdlib
// hash/crc32 package's Castagnoli table, matching the idiom
// `_examples/other_examples/c1f5e80d_bagaswh-prometheus__wal.go.go` and
// `.../f6bf4367_ashita-ai-akashi__internal-service-trace-wal.go.go` both use
// (`crc32.MakeTable(crc32.Castagnoli)` built once, package-level).
package crc32c

import "hash/crc32"

// table is the reflected Castagnoli CRC-32 table, built once at init like
// the two pack examples' own package-level `castagnoliTable`/`crc32cTable`.
var table = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the reflected CRC-32C of data with initial value and
// final XOR both 0xFFFFFFFF.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, table)
}

// Update extends a running CRC state (as returned by Checksum) with more
// data. Callers that only need a one-shot checksum should use Checksum
// instead.
func Update(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, table, data)
}
