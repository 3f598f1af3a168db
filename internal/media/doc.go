// Package media is the hashing client of the resource manager: file reads are
// admitted per physical device, digests run on the CPU pool, and directory
// scans fan out in bounded batches.
package media
