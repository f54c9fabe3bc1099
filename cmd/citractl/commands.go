package main

import (
	"citra-rpc/client"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var errUsage = errors.New("usage: read <addr> <len> | write <addr> <hexbytes> | u32 <addr> [value]")

// execute runs one command line already split into words.
func execute(ctx context.Context, c *client.Client, words []string, out io.Writer) error {
	if len(words) == 0 {
		return errUsage
	}

	switch words[0] {
	case "read", "r":
		if len(words) != 3 {
			return errUsage
		}
		addr, err := parseAddress(words[1])
		if err != nil {
			return err
		}
		n, err := parseLength(words[2])
		if err != nil {
			return err
		}
		data, err := c.ReadMemory(ctx, addr, n)
		if err != nil {
			return err
		}
		fmt.Fprint(out, dump(addr, data))
		return nil

	case "write", "w":
		if len(words) < 3 {
			return errUsage
		}
		addr, err := parseAddress(words[1])
		if err != nil {
			return err
		}
		data, err := parseHexBytes(strings.Join(words[2:], ""))
		if err != nil {
			return err
		}
		if _, err := c.WriteMemory(ctx, addr, data); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %d bytes at 0x%08X\n", len(data), addr)
		return nil

	case "u32":
		if len(words) != 2 && len(words) != 3 {
			return errUsage
		}
		addr, err := parseAddress(words[1])
		if err != nil {
			return err
		}
		if len(words) == 3 {
			v, err := parseAddress(words[2])
			if err != nil {
				return err
			}
			return c.WriteUint32(ctx, addr, v)
		}
		v, err := c.ReadUint32(ctx, addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "0x%08X: 0x%08X (%d)\n", addr, v, v)
		return nil

	default:
		return fmt.Errorf("unknown command %q", words[0])
	}
}

// parseAddress accepts 0x-prefixed or $-prefixed hex, or decimal.
func parseAddress(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	base := 10
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s, base = s[2:], 16
	case strings.HasPrefix(s, "$"):
		s, base = s[1:], 16
	}
	v, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), base, 32)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return uint32(v), nil
}

func parseLength(s string) (uint32, error) {
	n, err := parseAddress(s)
	if err != nil {
		return 0, fmt.Errorf("bad length: %w", err)
	}
	return n, nil
}

// parseHexBytes decodes "ff00", "ff 00" or "0xff,0x00" style byte lists.
func parseHexBytes(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ",", "", "0x", "", "0X", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bad hex bytes: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("no bytes to write")
	}
	return data, nil
}

// dump renders data as 16-byte rows labelled with emulator addresses.
func dump(addr uint32, data []byte) string {
	var b strings.Builder
	for off := 0; off < len(data); off += 16 {
		row := data[off:min(off+16, len(data))]
		fmt.Fprintf(&b, "%08X  % x\n", addr+uint32(off), row)
	}
	return b.String()
}
