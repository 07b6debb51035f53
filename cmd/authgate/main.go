package main

import "github.com/terraconstructs/authgate/cmd/authgate/cmd"

func main() {
	cmd.Execute()
}
