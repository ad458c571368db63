// Command mailctl is the operator CLI for the email manager.
package main

func main() {
	Execute()
}
