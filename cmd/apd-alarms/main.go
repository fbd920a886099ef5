package main

import "github.com/oshokin/apd-alarms/cmd/apd-alarms/cmd"

func main() {
	cmd.Execute()
}
