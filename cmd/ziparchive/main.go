package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/nguyengg/ziparchive/internal/cmd"
)

var opts struct {
	List    cmd.ListCommand    `command:"list" alias:"ls" description:"list the entries of a zip archive"`
	Extract cmd.ExtractCommand `command:"extract" alias:"x" description:"extract a zip archive to a directory"`
}

func main() {
	p := flags.NewParser(&opts, flags.Default)

	_, err := p.Parse()
	if err != nil && !flags.WroteHelp(err) {
		os.Exit(1)
	}
}
