package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/packetline/iox"
	"github.com/pithecene-io/packetline/ipc"
	"github.com/pithecene-io/packetline/types"
)

// EncodeCommand returns the encode command.
// It turns a text listing of payloads into a capture stream for run.
func EncodeCommand() *cli.Command {
	return &cli.Command{
		Name:  "encode",
		Usage: "Build a capture stream from \"<port> <hex>\" lines",
		Description: "Each input line holds a destination port and a hex payload. A line with\n" +
			"a single field is a payload for --port. Blank lines and lines starting with #\n" +
			"are skipped.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "Listing file, or - for stdin",
				Value:   iox.Stdio,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Capture stream file, or - for stdout",
				Value:   iox.Stdio,
			},
			&cli.UintFlag{
				Name:  "port",
				Usage: "Port for lines without one",
				Value: 443,
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Source recorded in the stream header",
				Value: "packetline-encode",
			},
		},
		Action: encodeAction,
	}
}

func encodeAction(c *cli.Context) error {
	port := c.Uint("port")
	if port > 0xFFFF {
		return cli.Exit(fmt.Sprintf("--port %d out of range", port), exitConfigError)
	}

	in, err := iox.OpenInput(c.String("input"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("open input: %v", err), exitRunError)
	}
	defer iox.DiscardClose(in)

	out, err := iox.CreateOutput(c.String("output"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("create output: %v", err), exitRunError)
	}

	n, err := encodeListing(in, out, c.String("source"), uint16(port))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("encode failed: %v", err), exitRunError)
	}
	fmt.Fprintf(os.Stderr, "encoded %d packets\n", n)
	return nil
}

// encodeListing writes one stream packet per listing line of in to out.
// Returns the number of packets written.
func encodeListing(in io.Reader, out io.Writer, source string, defaultPort uint16) (int, error) {
	w := ipc.NewWriter(out, source)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 2*ipc.MaxPayloadSize+16)

	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		port, data, err := parseListingLine(text, defaultPort)
		if err != nil {
			return w.Count(), fmt.Errorf("line %d: %w", line, err)
		}
		if err := w.WritePacket(types.NewPacket(data, port)); err != nil {
			return w.Count(), err
		}
	}
	if err := sc.Err(); err != nil {
		return w.Count(), err
	}
	// An empty listing still yields a valid stream.
	return w.Count(), w.WriteHeader()
}

// parseListingLine splits "<port> <hex>" or "<hex>". With more than one
// field the first is always the port; the payload may be spaced.
func parseListingLine(text string, defaultPort uint16) (uint16, []byte, error) {
	port := defaultPort
	fields := strings.Fields(text)
	if len(fields) > 1 {
		p, err := strconv.ParseUint(fields[0], 10, 16)
		if err != nil {
			return 0, nil, fmt.Errorf("invalid port %q", fields[0])
		}
		port = uint16(p)
		text = strings.Join(fields[1:], "")
	}
	data, err := parseHex(text)
	if err != nil {
		return 0, nil, err
	}
	return port, data, nil
}
