// Command rapidgzip is the CLI boundary over the parallel decode engine:
// a thin argument parser and io.Copy loop, not a restatement of the
// original tool's full flag surface. Exit codes follow the gzip-family
// convention the rest of the flag surface imitates: 0 success, 1 argument
// error, 2 decode error, 3 I/O error.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/coreos/rapidgzip"
	"github.com/coreos/rapidgzip/gzipindex"
	"github.com/coreos/rapidgzip/parallelreader"
	"github.com/coreos/rapidgzip/yamlutil"
)

const (
	exitOK = iota
	exitArgError
	exitDecodeError
	exitIOError
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("rapidgzip", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	decompress := fs.Bool("d", false, "decompress (default behavior; accepted for gzip-CLI compatibility)")
	keep := fs.Bool("k", false, "keep the input file (has no effect: rapidgzip never deletes its input)")
	stdout := fs.Bool("c", false, "write decompressed output to stdout instead of <file> with .gz stripped")
	numWorkers := fs.Int("P", 0, "worker count; 0 uses runtime.NumCPU()")
	indexFile := fs.String("index-file", "", "path to a .gzidx file to use for seeking, building it first if absent")
	importIndex := fs.String("import-index", "", "path to a pre-built .gzidx file to import before decoding")
	exportIndex := fs.String("export-index", "", "write the checkpoint index built during this run to path")
	verifyCRC32 := fs.Bool("verify-crc32", true, "validate each gzip member's CRC32/ISIZE trailer while sealing")
	config := fs.String("config", "", "path to a YAML file supplying defaults for any flag not given on the command line")

	if err := fs.Parse(args); err != nil {
		return exitArgError
	}
	_ = decompress
	_ = keep

	if *config != "" {
		raw, err := os.ReadFile(*config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rapidgzip: config: %v\n", err)
			return exitIOError
		}
		if err := yamlutil.SetFlagsFromYaml(fs, raw); err != nil {
			fmt.Fprintf(os.Stderr, "rapidgzip: config: %v\n", err)
			return exitArgError
		}
	}

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: rapidgzip [-d|-k|-c|-P N|--index-file path|--import-index path|--export-index path] <file>")
		return exitArgError
	}
	inPath := fs.Arg(0)

	opts := rapidgzip.Options{
		NumWorkers:  *numWorkers,
		VerifyCRC32: *verifyCRC32,
	}

	if *importIndex != "" {
		idx, err := loadIndex(*importIndex)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rapidgzip: import-index: %v\n", err)
			return exitIOError
		}
		opts.Index = idx
	} else if *indexFile != "" {
		if idx, err := loadIndex(*indexFile); err == nil {
			opts.Index = idx
		}
	}

	r, err := rapidgzip.Open(inPath, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rapidgzip: %v\n", err)
		return exitIOError
	}
	defer r.Close()

	out, closeOut, code := openOutput(inPath, *stdout)
	if code != exitOK {
		return code
	}
	defer closeOut()

	if _, err := io.Copy(out, r); err != nil {
		if isFormatOrChecksumError(err) {
			fmt.Fprintf(os.Stderr, "rapidgzip: %v\n", err)
			return exitDecodeError
		}
		fmt.Fprintf(os.Stderr, "rapidgzip: %v\n", err)
		return exitIOError
	}

	if *exportIndex != "" {
		if err := writeIndex(*exportIndex, r.Index()); err != nil {
			fmt.Fprintf(os.Stderr, "rapidgzip: export-index: %v\n", err)
			return exitIOError
		}
	}
	if *indexFile != "" && opts.Index == nil {
		if err := writeIndex(*indexFile, r.Index()); err != nil {
			fmt.Fprintf(os.Stderr, "rapidgzip: index-file: %v\n", err)
			return exitIOError
		}
	}

	return exitOK
}

func isFormatOrChecksumError(err error) bool {
	var fe *parallelreader.ErrFormatError
	if errors.As(err, &fe) {
		return true
	}
	return errors.Is(err, parallelreader.ErrChecksumMismatch)
}

func openOutput(inPath string, toStdout bool) (io.Writer, func(), int) {
	if toStdout {
		return os.Stdout, func() {}, exitOK
	}
	outPath := trimGzSuffix(inPath)
	f, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rapidgzip: %v\n", err)
		return nil, func() {}, exitIOError
	}
	return f, func() { f.Close() }, exitOK
}

func trimGzSuffix(path string) string {
	const suffix = ".gz"
	if len(path) > len(suffix) && path[len(path)-len(suffix):] == suffix {
		return path[:len(path)-len(suffix)]
	}
	return path + ".out"
}

func loadIndex(path string) (*gzipindex.Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return gzipindex.Read(f)
}

func writeIndex(path string, idx *gzipindex.Index) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gzipindex.Write(f, idx)
}
