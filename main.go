package main

import "github.com/shiprail/rollout/cmd"

func main() {
	cmd.Execute()
}
