package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/packetline/cli/render"
	"github.com/pithecene-io/packetline/protocol"
	"github.com/pithecene-io/packetline/types"
)

// DetectCommand returns the detect command.
// It classifies and decodes one payload without running the pipeline.
func DetectCommand() *cli.Command {
	return &cli.Command{
		Name:      "detect",
		Usage:     "Classify and decode one hex-encoded payload",
		ArgsUsage: "[hex]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "hex",
				Usage: "Payload as hex (spaces, colons and a 0x prefix are ignored)",
			},
			&cli.UintFlag{
				Name:  "port",
				Usage: "Destination port of the payload",
				Value: 443,
			},
			FormatFlag,
		},
		Action: detectAction,
	}
}

// detectResult is the output of packetline detect.
type detectResult struct {
	Port     uint16         `json:"port" yaml:"port"`
	Size     int            `json:"size" yaml:"size"`
	Protocol string         `json:"protocol" yaml:"protocol"`
	Fields   map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Header implements render.Table.
func (d detectResult) Header() []string {
	return []string{"FIELD", "VALUE"}
}

// Rows implements render.Table.
func (d detectResult) Rows() [][]string {
	rows := [][]string{
		{"port", fmt.Sprint(d.Port)},
		{"size", fmt.Sprint(d.Size)},
		{"protocol", d.Protocol},
	}
	names := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows = append(rows, []string{name, fmt.Sprint(d.Fields[name])})
	}
	if d.Error != "" {
		rows = append(rows, []string{"error", d.Error})
	}
	return rows
}

func detectAction(c *cli.Context) error {
	input := c.String("hex")
	if input == "" {
		input = c.Args().First()
	}
	if input == "" {
		return cli.Exit("a payload is required (--hex or argument)", exitConfigError)
	}
	port := c.Uint("port")
	if port > 0xFFFF {
		return cli.Exit(fmt.Sprintf("--port %d out of range", port), exitConfigError)
	}
	data, err := parseHex(input)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	result, decodeErr := detect(data, uint16(port))
	if err := r.Render(result); err != nil {
		return err
	}
	if decodeErr != nil {
		return cli.Exit("", exitRunError)
	}
	return nil
}

// detect classifies and decodes data as seen on port. The result carries
// the decode error too.
func detect(data []byte, port uint16) (detectResult, error) {
	tag, frame, err := protocol.DetectAndDecode(data, port)
	result := detectResult{
		Port:     port,
		Size:     len(data),
		Protocol: tag.String(),
	}
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	if frame != nil {
		fields := types.NewRecord(types.Packet{Data: data, Port: port}, tag, frame).Fields()
		for _, k := range []string{"packet_id", "port", "captured_at", "protocol", "size"} {
			delete(fields, k)
		}
		result.Fields = fields
	}
	return result, nil
}

// parseHex decodes s, ignoring whitespace, colons and a 0x prefix.
func parseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, errors.New("empty payload")
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return data, nil
}
