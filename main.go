/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "meshbridge/cmd"

func main() {
	cmd.Execute()
}
