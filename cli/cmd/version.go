package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/packetline/cli/render"
	"github.com/pithecene-io/packetline/types"
)

// VersionResponse is the output of the version command.
type VersionResponse struct {
	Version       string `json:"version" yaml:"version"`
	StreamVersion string `json:"stream_version" yaml:"stream_version"`
	Commit        string `json:"commit" yaml:"commit"`
}

// VersionCommand returns the version command.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  []cli.Flag{FormatFlag},
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return cli.Exit(err.Error(), exitConfigError)
		}
		return r.Render(VersionResponse{
			Version:       types.Version,
			StreamVersion: types.StreamVersion,
			Commit:        commit,
		})
	}
}
