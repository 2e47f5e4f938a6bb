// Package zstdstream implements streaming Zstandard compression and
// decompression with directive-driven flushing, a frame/block header
// inspector, and random access over compressed archives through the
// Zstandard seekable format extension.
//
// The streaming layer wraps a stateful encoder/decoder pair: a Compressor
// accumulates input and emits compressed bytes according to a flush
// directive (Continue, FlushBlock, FlushFrame), and a Decompressor produces
// bounded or unbounded output while tracking whether it sits exactly on a
// frame boundary.
//
// The seekable layer records one seek-table entry per frame while writing
// and appends the table as a skippable frame, so decoders unaware of the
// extension still decode the stream as plain concatenated frames. Reader
// re-opens such an archive and serves io.ReadSeeker/io.ReaderAt requests by
// binary-searching the table and decoding only the frames that cover the
// requested range.
//
// Streaming handles serialize their methods through an internal mutex, so
// sharing one is safe but calls on it never overlap; the seekable Reader
// requires external synchronization.  For concurrent pipelines use separate
// handles per goroutine, which may share a Dictionary.
package zstdstream
