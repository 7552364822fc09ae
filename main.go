package main

import "github.com/kirogateway/kiro-gateway/cmd"

func main() {
	cmd.Execute()
}
