// Package cmd provides the commands of the packetline binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml (default: table on a terminal, json otherwise)",
	}

	// TUIFlag enables the live terminal view.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Show a live terminal view of pipeline reports",
	}

	// ConfigFlag points at a packetline.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to packetline.yaml (flags override file values)",
		EnvVars: []string{"PACKETLINE_CONFIG"},
	}
)

// storageFlags configure the storage backend for run and stats.
func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "storage-backend", Usage: "Storage backend: stub, memory, fs, s3, sqlite", Value: "stub"},
		&cli.StringFlag{Name: "storage-path", Usage: "Storage path (fs: directory, s3: bucket/prefix, sqlite: file)"},
		&cli.StringFlag{Name: "storage-dataset", Usage: "Lode dataset ID (default: \"packetline\")"},
		&cli.StringFlag{Name: "storage-region", Usage: "AWS region for S3 backend (optional, uses default chain)"},
		&cli.StringFlag{Name: "storage-endpoint", Usage: "Custom S3 endpoint (MinIO, R2, LocalStack)"},
		&cli.BoolFlag{Name: "storage-s3-path-style", Usage: "Force path-style S3 addressing"},
	}
}
