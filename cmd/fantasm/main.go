// Command fantasm validates, draws and serves Fantasm machine definitions.
//
// Every action is bound to a no-op; build your own binary around
// cli.Execute to run machines with real actions.
package main

import "github.com/aretw0/fantasm/pkg/cli"

func main() {
	cli.Execute(nil)
}
