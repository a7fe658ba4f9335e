/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meshbridge",
	Short: "Host-side bridge for an embedded CAD application",
	Long: `MeshBridge runs the host side of a cross-window messaging bridge:
it gates messages by origin, tracks the handshake with the embedded CAD
peer, and pulls exported STL artifacts to local renderers.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
