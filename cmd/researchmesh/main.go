// Command researchmesh runs multi-round web research sessions from the
// terminal.
//
//	researchmesh research "How do heat pumps compare to gas boilers?"
//	researchmesh list
//	researchmesh show <message-id>
//	researchmesh logs <session-id>
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
