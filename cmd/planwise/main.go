// Package main is the entry point for planwise.
package main

func main() {
	Execute()
}
