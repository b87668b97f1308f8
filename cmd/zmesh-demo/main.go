// Command zmesh-demo drives a Z-Mesh node over a serial-attached mesh
// radio: send a file to a peer, or sit and listen for inbound transfers.
package main

import "github.com/z-mesh/zmesh/cmd/zmesh-demo/cmd"

func main() {
	cmd.Execute()
}
