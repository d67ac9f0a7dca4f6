// natcorectl is the CLI client for the natcored daemon's admin/introspection
// HTTP API.
package main

import "github.com/dantte-lp/natcore/cmd/natcorectl/commands"

func main() {
	commands.Execute()
}
