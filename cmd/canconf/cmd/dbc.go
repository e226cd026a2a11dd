package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/roffe/canconf/pkg/dbc"
	"github.com/spf13/cobra"
)

var dbcCmd = &cobra.Command{
	Use:   "dbc <file>",
	Short: "Parse a DBC file and print its signals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		signals := dbc.ParseFile(args[0], log.Printf)
		if len(signals) == 0 {
			return fmt.Errorf("no signals in %s", args[0])
		}
		frame, _ := cmd.Flags().GetString("decode")
		if frame == "" {
			for _, s := range signals {
				fmt.Println(s.String())
			}
			return nil
		}
		id, data, err := parseFrameArg(frame)
		if err != nil {
			return err
		}
		for _, s := range signals {
			if s.MessageID != id {
				continue
			}
			v, err := dbc.Decode(data, s)
			if err != nil {
				log.Printf("%s: %v", s.Name, err)
				continue
			}
			fmt.Printf("%-24s %g %s\n", s.Name, v, s.Unit)
		}
		return nil
	},
}

func init() {
	dbcCmd.Flags().String("decode", "", "decode a frame, <id>#<hex data>")
	rootCmd.AddCommand(dbcCmd)
}

// parseFrameArg reads "7D0#0102AABB" style frames, the id is hex.
func parseFrameArg(s string) (uint32, []byte, error) {
	idStr, dataStr, ok := strings.Cut(s, "#")
	if !ok {
		return 0, nil, errors.New("frame must be <id>#<hex data>")
	}
	id, err := parseID(idStr)
	if err != nil {
		return 0, nil, err
	}
	data, err := hex.DecodeString(strings.ReplaceAll(dataStr, " ", ""))
	if err != nil {
		return 0, nil, fmt.Errorf("invalid data %q: %w", dataStr, err)
	}
	return id, data, nil
}

func parseID(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	id, err := strconv.ParseUint(s, 16, 29)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return uint32(id), nil
}
