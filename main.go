package main

import "github.com/orbitfaas/orbit/cmd"

func main() {
	cmd.Execute()
}
