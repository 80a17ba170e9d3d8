// Command duet refines natural-language content requests into validated tool
// plans with an Actor/Critic loop.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		fatal(err)
		os.Exit(1)
	}
}
