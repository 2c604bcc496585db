// Command touchflow finds elements by scrolling, sends gestures and waits for
// devices on Appium-driven apps.
package main

import "github.com/devicelab-dev/touchflow/pkg/cli"

func main() {
	cli.Execute()
}
