// package main provides the entry point for release-mirror, which copies the published
// releases of one GitHub repository, with their assets, into another.
package main

import "github.com/ortelius/release-mirror/cmd"

func main() {
	cmd.Execute()
}
