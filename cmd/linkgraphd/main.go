// Command linkgraphd crawls a target domain and serves its backlink graph.
package main

import (
	cmd "github.com/kellanvoss/linkgraph/internal/cli"
)

func main() {
	cmd.Execute()
}
