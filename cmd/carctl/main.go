// Copyright 2025 Certen Protocol
package main

func main() {
	Execute()
}
