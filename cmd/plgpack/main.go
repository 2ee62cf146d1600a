// Command plgpack builds a plugin package and its installer manifest.
package main

import "github.com/oshokin/plgpack/cmd/plgpack/cmd"

func main() {
	cmd.Execute()
}
