package main

import (
	"fmt"

	"github.com/gwillem/legion/pkg/actuator"
)

type ScanCommand struct {
	First int `long:"first" default:"1" description:"Lowest servo ID to probe"`
	Last  int `long:"last" default:"0" description:"Highest servo ID to probe (default: first + 15)"`
}

// Execute lists every serial port with bus servos attached.
func (c *ScanCommand) Execute(args []string) error {
	last := c.Last
	if last == 0 {
		last = c.First + actuator.NumChannels - 1
	}
	if last < c.First {
		return fmt.Errorf("invalid ID range %d-%d", c.First, last)
	}

	fmt.Printf("Scanning servo IDs %d-%d...\n\n", c.First, last)
	buses := findServos(c.First, last)
	if len(buses) == 0 {
		fmt.Println("No bus servos found.")
		fmt.Println("Make sure the servos are connected and powered on.")
		return nil
	}
	fmt.Println()
	fmt.Println(renderBuses(buses))
	return nil
}
