// Command tree lists and extracts the contents of directories and archives,
// descending into nested 7z, zip, tar, rar and ar archives.
//
// Usage:
//
//	$ tree [<flags>] ls <root>
//	$ tree [<flags>] cat <root> <path>
package main

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"textmodes.com/sevenzip"
	"textmodes.com/sevenzip/autofs"
	"textmodes.com/sevenzip/vfs"
)

var (
	app = kingpin.New("tree", "Browse archives as directory trees.")

	logLevel    = app.Flag("log-level", "log level").Default("info").Enum("debug", "info", "warning", "error")
	trace       = app.Flag("trace", "enable vfs tracing").Bool()
	concurrency = app.Flag("concurrency", "folders decoded in parallel per 7z archive").Default("1").Int()
	cacheSize   = app.Flag("cache", "number of mounted archives kept open").Default("64").Int()

	lsCmd   = app.Command("ls", "List a directory tree.").Default()
	lsRoot  = lsCmd.Arg("root", "directory or archive").Required().String()
	lsHuman = lsCmd.Flag("human", "print sizes in human readable form").Bool()

	catCmd  = app.Command("cat", "Write a file to standard output.")
	catRoot = catCmd.Arg("root", "directory or archive").Required().String()
	catPath = catCmd.Arg("path", "path below root").Required().String()
)

func initializeLogging(*kingpin.ParseContext) error {
	switch *logLevel {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}
	// Trace output is logged at debug level.
	if vfs.Trace = *trace; vfs.Trace {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return nil
}

func main() {
	app.PreAction(initializeLogging)
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	var err error
	switch cmd {
	case lsCmd.FullCommand():
		err = list(*lsRoot, *lsHuman)
	case catCmd.FullCommand():
		err = cat(*catRoot, *catPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "tree: %v\n", err)
		os.Exit(1)
	}
}

func open(root string) (vfs.FileSystem, error) {
	return autofs.New(root,
		autofs.WithCacheSize(*cacheSize),
		autofs.WithSevenZipOptions(
			sevenzip.WithLogger(vfs.Logger),
			sevenzip.WithConcurrency(*concurrency),
		),
	)
}

func list(root string, human bool) error {
	fs, err := open(root)
	if err != nil {
		return err
	}
	size := func(n int64) string {
		if human {
			return humanize.Bytes(uint64(n))
		}
		return fmt.Sprint(n)
	}
	dump(os.Stdout, fs, "/", 0, size)
	return nil
}

func cat(root, name string) error {
	fs, err := open(root)
	if err != nil {
		return err
	}
	f, err := fs.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(os.Stdout, f)
	return err
}

func dump(w io.Writer, fs vfs.FileSystem, base string, depth int, size func(int64) string) {
	pad := strings.Repeat("  ", depth)

	i, err := fs.Stat(base)
	if err != nil {
		fmt.Fprintf(w, "%s%s error: %v\n", pad, base, err)
		return
	}
	if !i.IsDir() {
		return
	}

	d, err := fs.Readdir(base)
	if err != nil {
		fmt.Fprintf(w, "%s%s error: %v\n", pad, base, err)
		return
	}

	fmt.Fprintf(w, "%s %9d %s %s\n", i.Mode(), len(d), i.ModTime().Format("Jan 02 15:04"), base)
	for _, i := range d {
		p := path.Join(base, path.Base(i.Name()))
		if i.IsDir() {
			dump(w, fs, p, depth+1, size)
		} else {
			fmt.Fprintf(w, "%s %9s %s %s\n", i.Mode(), size(i.Size()), i.ModTime().Format("Jan 02 15:04"), p)
		}
	}
	if depth == 1 {
		fmt.Fprintln(w)
	}
}
