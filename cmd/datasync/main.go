// Datasync CLI entry point
//
// Datasync keeps a local SQLite copy of remote tables synchronized with a
// table service. Local changes are queued and pushed; remote changes are
// pulled incrementally.
package main

import "github.com/jbctechsolutions/datasync/internal/presentation/cli/commands"

func main() {
	commands.Execute()
}
