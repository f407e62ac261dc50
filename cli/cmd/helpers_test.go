package cmd

import (
	"bytes"
	"flag"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/packetline/ipc"
	"github.com/pithecene-io/packetline/types"
)

var (
	// A non-final WebSocket text frame; 0x81 on a web port reads as QUIC.
	wsPayload   = []byte{0x01, 0x05, 'H', 'e', 'l', 'l', 'o'}
	h2Preface   = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")
	truncatedWS = []byte{0x01, 0xFF, 0x00, 0x00}
)

// newTestCLIContext parses args against the flags of cmd. Only flags in
// args report IsSet.
func newTestCLIContext(t *testing.T, cmd *cli.Command, args ...string) *cli.Context {
	t.Helper()
	app := cli.NewApp()
	app.Flags = cmd.Flags

	fs := flag.NewFlagSet(cmd.Name, flag.ContinueOnError)
	for _, f := range cmd.Flags {
		if err := f.Apply(fs); err != nil {
			t.Fatalf("Apply(%s) failed: %v", f.Names()[0], err)
		}
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
	return cli.NewContext(app, fs, nil)
}

// newTestApp wires cmd into an app whose ExitErrHandler does not exit.
func newTestApp(cmd *cli.Command) *cli.App {
	app := cli.NewApp()
	app.Commands = []*cli.Command{cmd}
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

// captureStream encodes payloads as a capture stream, one packet per
// payload on the matching port.
func captureStream(t *testing.T, ports []uint16, payloads ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, "test")
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, p := range payloads {
		pkt := types.Packet{ID: string(rune('a' + i)), Data: p, Port: ports[i], Timestamp: ts}
		if err := w.WritePacket(pkt); err != nil {
			t.Fatalf("WritePacket failed: %v", err)
		}
	}
	if err := w.WriteHeader(); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	return buf.Bytes()
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return exitSuccess
	}
	exitErr, ok := err.(cli.ExitCoder)
	if !ok {
		t.Fatalf("error %v (%T) is not a cli.ExitCoder", err, err)
	}
	return exitErr.ExitCode()
}
