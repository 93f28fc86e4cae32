package main

import "letmego-core/internal/satellite/cmd"

func main() {
	cmd.Execute()
}
