package main

import "github.com/outreachd/campaign-engine/cmd"

func main() {
	cmd.Execute()
}
