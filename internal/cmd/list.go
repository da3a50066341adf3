package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/nguyengg/ziparchive/z"
)

// ListCommand prints every entry name in an archive, one per line.
type ListCommand struct {
	Long bool `short:"l" long:"long" description:"also print method, compressed and uncompressed size, and modified time for every entry"`
	Args struct {
		Archive string `positional-arg-name:"archive" description:"path to the zip archive" required:"yes"`
	} `positional-args:"yes"`
}

func (c *ListCommand) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	f, err := os.Open(c.Args.Archive)
	if err != nil {
		return fmt.Errorf("open archive error: %w", err)
	}
	defer f.Close()

	ar, err := z.Open(f)
	if err != nil {
		return fmt.Errorf("parse archive error: %w", err)
	}

	if !c.Long {
		for _, name := range ar.FileNames() {
			fmt.Println(name)
		}
		return nil
	}

	for i := 0; i < ar.Len(); i++ {
		er, err := ar.OpenByIndex(i)
		if err != nil {
			return fmt.Errorf("open entry error: %w", err)
		}

		m := er.Metadata()
		fmt.Printf("%8s %12d %12d %s %s\n", methodName(m.Method), m.CompressedSize, m.UncompressedSize, m.Modified.Format("2006-01-02 15:04"), m.Name)

		if err = er.Close(); err != nil {
			return fmt.Errorf("close entry error: %w", err)
		}
	}

	return nil
}

func methodName(m z.Method) string {
	switch m {
	case z.Store:
		return "store"
	case z.Deflate:
		return "deflate"
	case z.MethodAES:
		return "aes"
	default:
		return fmt.Sprintf("0x%x", uint16(m))
	}
}
