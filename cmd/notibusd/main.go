// Package main provides the entrypoint for notibusd, a desktop notification
// bus service that hands notifications to an external display command.
package main

func main() {
	Execute()
}
