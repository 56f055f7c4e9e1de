package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/viant/memlease"
)

var (
	// Global flags
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "memleased",
	Short: "Distributed memory allocation service",
	Long: `memleased tracks spare RAM across worker hosts and grants chunked,
host-addressed reservations to processes. It runs the allocator with its
maintenance sweeps and an admin HTTP surface, and audits exported snapshots.`,
	Version:       memlease.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// printJSON outputs data as JSON
func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
