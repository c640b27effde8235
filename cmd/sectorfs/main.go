// Command sectorfs drives a sectorfs filesystem from a terminal: a
// thin syscall-dispatch stand-in, reimplemented only far enough to
// format, mount, and poke at a filesystem for development and testing.
package main

import (
	"fmt"
	"os"

	"github.com/sectorfs/sectorfs/ferrors"
)

func main() {
	defer recoverFatal()
	Execute()
}

// recoverFatal is the one place a *ferrors.Fatal panic is allowed to
// surface to: everything below this is expected to let it propagate,
// mirroring a kernel PANIC that nothing catches until the top.
func recoverFatal() {
	r := recover()
	if r == nil {
		return
	}
	if f, ok := r.(*ferrors.Fatal); ok {
		fmt.Fprintln(os.Stderr, "sectorfs: fatal:", f.Error())
		os.Exit(2)
	}
	panic(r)
}
