// Command zstdseek creates and reads seekable zstd archives.
//
// By default it compresses the input into content-defined chunks, one
// frame per chunk, so later point reads decode only the frames they
// touch.  With -x it extracts a byte range from an existing archive.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	fastcdc "github.com/SaveTheRbtz/fastcdc-go"
	"github.com/schollz/progressbar/v3"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	zstdstream "github.com/Rogdham/zstdstream-go"
)

func main() {
	var (
		inputFlag, chunkingFlag, outputFlag, extractFlag string
		qualityFlag, jobsFlag                            int
		verifyFlag, verboseFlag, progressFlag            bool
	)

	flag.StringVar(&inputFlag, "f", "", "input filename")
	flag.StringVar(&outputFlag, "o", "", "output filename")
	flag.StringVar(&chunkingFlag, "c", "16:64:1024", "min:avg:max chunking block size (in kb)")
	flag.StringVar(&extractFlag, "x", "", "extract offset:length from a seekable archive")
	flag.BoolVar(&verifyFlag, "t", false, "test reading after the write")
	flag.IntVar(&qualityFlag, "q", 1, "compression quality (lower == faster)")
	flag.IntVar(&jobsFlag, "j", 1, "number of concurrent compressions")
	flag.BoolVar(&verboseFlag, "v", false, "be verbose")
	flag.BoolVar(&progressFlag, "p", false, "show progress")

	flag.Parse()

	var err error
	var logger *zap.Logger
	if verboseFlag {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal("failed to initialize logger", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if inputFlag == "" || outputFlag == "" {
		logger.Fatal("both input and output files need to be defined")
	}

	if extractFlag != "" {
		extract(logger, inputFlag, outputFlag, extractFlag)
		return
	}
	compress(logger, inputFlag, outputFlag, chunkingFlag,
		qualityFlag, jobsFlag, verifyFlag, progressFlag)
}

func compress(logger *zap.Logger, inputFlag, outputFlag, chunkingFlag string,
	qualityFlag, jobsFlag int, verifyFlag, progressFlag bool,
) {
	if verifyFlag && outputFlag == "-" {
		logger.Fatal("verify can't be used with stdout output")
	}

	var err error
	var input *os.File
	if inputFlag == "-" {
		input = os.Stdin
	} else {
		if input, err = os.Open(inputFlag); err != nil {
			logger.Fatal("failed to open input", zap.Error(err))
		}
		defer input.Close()
	}

	var output *os.File
	if outputFlag == "-" {
		output = os.Stdout
	} else {
		output, err = os.OpenFile(outputFlag, os.O_TRUNC|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			logger.Fatal("failed to open output", zap.Error(err))
		}
		defer output.Close()
	}

	w, err := zstdstream.NewWriter(output,
		zstdstream.WithWLogger(logger),
		zstdstream.WithWCompressOptions(zstdstream.WithCompressionLevel(qualityFlag)))
	if err != nil {
		logger.Fatal("failed to create compressed writer", zap.Error(err))
	}
	defer w.Close()

	chunkParams := strings.SplitN(chunkingFlag, ":", 3)
	if len(chunkParams) != 3 {
		logger.Fatal("failed to parse chunker params. len() != 3", zap.Int("actual", len(chunkParams)))
	}
	mustConv := func(s string) int {
		n, err := strconv.Atoi(s)
		if err != nil {
			logger.Fatal("failed to parse int", zap.String("int", s), zap.Error(err))
		}
		return n
	}
	opts := fastcdc.Options{
		MinSize:     mustConv(chunkParams[0]) * 1024,
		AverageSize: mustConv(chunkParams[1]) * 1024,
		MaxSize:     mustConv(chunkParams[2]) * 1024,
	}

	var reader io.Reader = input
	expected := blake3.New()
	if verifyFlag {
		reader = io.TeeReader(reader, expected)
	}

	var bar *progressbar.ProgressBar
	if progressFlag {
		size := int64(-1)
		if st, err := input.Stat(); err == nil && st.Mode().IsRegular() {
			size = st.Size()
		}
		bar = progressbar.DefaultBytes(size, "compressing")
	}

	chunker, err := fastcdc.NewChunker(reader, opts)
	if err != nil {
		logger.Fatal("failed to create chunker", zap.Error(err))
	}

	frameSource := func() ([]byte, error) {
		chunk, err := chunker.Next()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		// The chunker reuses its internal buffer on the next call, while
		// WriteMany holds the chunk until it is written.
		out := make([]byte, chunk.Length)
		copy(out, chunk.Data)
		return out, nil
	}

	writeManyOpts := []zstdstream.WriteManyOption{
		zstdstream.WithConcurrency(jobsFlag),
	}
	if bar != nil {
		writeManyOpts = append(writeManyOpts, zstdstream.WithWriteCallback(func(size uint32) {
			_ = bar.Add64(int64(size))
		}))
	}

	if err := w.WriteMany(context.Background(), frameSource, writeManyOpts...); err != nil {
		logger.Fatal("failed to write data", zap.Error(err))
	}
	if err := w.Close(); err != nil {
		logger.Fatal("failed to finalize archive", zap.Error(err))
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if verifyFlag {
		verifyArchive(logger, outputFlag, expected)
	}
}

func verifyArchive(logger *zap.Logger, outputFlag string, expected *blake3.Hasher) {
	archive, err := os.Open(outputFlag)
	if err != nil {
		logger.Fatal("failed to open file for verification", zap.Error(err))
	}
	defer archive.Close()

	reader, err := zstdstream.NewReader(archive, zstdstream.WithRLogger(logger))
	if err != nil {
		logger.Fatal("failed to create new seekable reader", zap.Error(err))
	}
	defer reader.Close()

	actual := blake3.New()
	m, err := io.CopyBuffer(actual, reader, make([]byte, 128<<10))
	if err != nil {
		logger.Fatal("failed to compute actual csum", zap.Int64("processed", m), zap.Error(err))
	}

	if !bytes.Equal(actual.Sum(nil), expected.Sum(nil)) {
		logger.Fatal("checksum verification failed",
			zap.Binary("actual", actual.Sum(nil)), zap.Binary("expected", expected.Sum(nil)))
	}
	logger.Info("checksum verification succeeded", zap.Binary("actual", actual.Sum(nil)))
}

func extract(logger *zap.Logger, inputFlag, outputFlag, extractFlag string) {
	rangeParams := strings.SplitN(extractFlag, ":", 2)
	if len(rangeParams) != 2 {
		logger.Fatal("extract range must be offset:length", zap.String("range", extractFlag))
	}
	offset, err := strconv.ParseInt(rangeParams[0], 10, 64)
	if err != nil {
		logger.Fatal("failed to parse offset", zap.Error(err))
	}
	length, err := strconv.ParseInt(rangeParams[1], 10, 64)
	if err != nil {
		logger.Fatal("failed to parse length", zap.Error(err))
	}

	archive, err := os.Open(inputFlag)
	if err != nil {
		logger.Fatal("failed to open input", zap.Error(err))
	}
	defer archive.Close()

	reader, err := zstdstream.NewReader(archive, zstdstream.WithRLogger(logger))
	if err != nil {
		logger.Fatal("failed to create new seekable reader", zap.Error(err))
	}
	defer reader.Close()

	var output io.Writer = os.Stdout
	if outputFlag != "-" {
		f, err := os.OpenFile(outputFlag, os.O_TRUNC|os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			logger.Fatal("failed to open output", zap.Error(err))
		}
		defer f.Close()
		output = f
	}

	buf := make([]byte, length)
	n, err := reader.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		logger.Fatal("failed to read range", zap.Error(err))
	}
	if _, err := output.Write(buf[:n]); err != nil {
		logger.Fatal("failed to write output", zap.Error(err))
	}
	if n < len(buf) {
		logger.Warn("range extends past end of stream",
			zap.Int("read", n), zap.Int64("requested", length))
	}
}
