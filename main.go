// Command almostbun bootstraps a GitHub project into an in-process
// module-execution runtime and runs it behind a virtual HTTP bus.
package main

import "github.com/BleedingDev/almostbun-sub000/cmd"

func main() {
	cmd.Execute()
}
