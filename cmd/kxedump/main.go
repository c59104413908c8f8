package main

import (
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	humanize "github.com/dustin/go-humanize"
	"github.com/evanphx/nkern/loader"
	"github.com/spf13/pflag"
)

func dump(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	hdr, err := loader.Decode(data)
	if err != nil {
		return err
	}

	fmt.Printf("\n[%s]\n", path)

	tr := tabwriter.NewWriter(os.Stdout, 4, 8, 1, ' ', 0)

	fmt.Fprintf(tr, "file size\t%s\n", humanize.Bytes(uint64(len(data))))
	fmt.Fprintf(tr, "version\t%d\n", hdr.Version)
	fmt.Fprintf(tr, "pages\t%d\n", hdr.Pages)
	fmt.Fprintf(tr, "memory\t%s\n", humanize.IBytes(uint64(hdr.MemorySize())))
	fmt.Fprintf(tr, "entry\t%s\n", hdr.Entry)

	return tr.Flush()
}

func main() {
	pflag.Parse()

	if pflag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "usage: kxedump image...\n")
		os.Exit(2)
	}

	var failed bool

	for _, path := range pflag.Args() {
		if err := dump(path); err != nil {
			log.Printf("%s: %s", path, err)
			failed = true
		}
	}

	if failed {
		os.Exit(1)
	}
}
