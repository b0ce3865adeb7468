// Command netfetch runs the fetch service (HTTP or Lambda) or performs a
// single fetch from the command line.
package main

func main() {
	Execute()
}
