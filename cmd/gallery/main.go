// Command gallery manages a local photo gallery database.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/smartgallery/gallerydb"
)

// Exit codes. Transient failures such as a full disk may succeed on retry.
const (
	exitTransient = 1
	exitPermanent = 2
	exitConflict  = 3
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case gallerydb.IsConflict(err):
		return exitConflict
	case gallerydb.IsPermanent(err):
		return exitPermanent
	default:
		return exitTransient
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	a := &app{}
	defer a.close()

	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.Execute()
}
