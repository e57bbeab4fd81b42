// Command gateway is the process entrypoint wiring together the metadata
// store, blob backend, tenant connection manager, deletion queue, event
// dispatcher, and resumable-upload lock-release notifier described by this
// repository's packages. The uploader, sharding allocator, and resumable
// session/locker are per-request components and are not constructed here.
// The HTTP/S3/TUS route surface that drives these components is an external
// collaborator and is not built here; this binary's job ends at constructing
// and running the background services those routes would call into.
package main

import (
	"fmt"
	"os"

	"github.com/objectgate/gateway/cmd/gateway/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
