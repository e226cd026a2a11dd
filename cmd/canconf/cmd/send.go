package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/roffe/canconf"
	"github.com/roffe/canconf/pkg/bar"
	"github.com/roffe/canconf/pkg/dbc"
	"github.com/roffe/canconf/pkg/dispatch"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send [<id>#<hex data>]",
	Short: "Send a frame, a configuration request or a batch of requests",
	Long: `Send writes one frame to the bus. With --request the frame is sent as a
configuration request and retried until the device answers. --batch queues
every request listed in a file, one <id>#<hex data> [description] per line.
Requests are addressed at the device base id plus dispatch.request_offset.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		flags := cmd.Flags()
		request, _ := flags.GetBool("request")
		batch, _ := flags.GetString("batch")
		dbcFile, _ := flags.GetString("dbc")
		signals, _ := flags.GetStringArray("signal")

		var reqs []dispatch.Request
		switch {
		case batch != "":
			var err error
			if reqs, err = readBatch(batch); err != nil {
				return err
			}
		case len(args) == 1:
			id, data, err := parseFrameArg(args[0])
			if err != nil {
				return err
			}
			if len(signals) > 0 {
				if data, err = encodeSignals(dbcFile, id, data, signals); err != nil {
					return err
				}
			}
			frame := canconf.NewFrame(id, data, canconf.Outgoing)
			if !request {
				return sendFrame(ctx, frame)
			}
			req, err := newRequest(frame, "request")
			if err != nil {
				return err
			}
			reqs = append(reqs, req)
		default:
			return errors.New("nothing to send")
		}
		return sendRequests(ctx, reqs)
	},
}

func init() {
	f := sendCmd.Flags()
	f.Bool("request", false, "retry until the device acknowledges")
	f.String("batch", "", "file with requests to queue")
	f.String("dbc", "", "DBC file used by --signal")
	f.StringArray("signal", nil, "encode <name>=<value> into the payload")
	rootCmd.AddCommand(sendCmd)
}

func sendFrame(ctx context.Context, frame *canconf.CANFrame) error {
	m, err := initCAN(ctx)
	if err != nil {
		return err
	}
	defer m.Disconnect()
	if err := m.Write(frame); err != nil {
		return err
	}
	fmt.Println(frame.ColorString())
	return nil
}

func sendRequests(ctx context.Context, reqs []dispatch.Request) error {
	reg, err := cfg.Registry(log.Printf)
	if err != nil {
		return err
	}
	m, err := initCAN(ctx)
	if err != nil {
		return err
	}
	defer m.Disconnect()

	results := make(chan dispatch.Result, len(reqs))
	opts := append(cfg.DispatchOptions(),
		dispatch.WithDescriber(reg),
		dispatch.WithResultHandler(func(r dispatch.Result) { results <- r }),
	)
	d := dispatch.New(m, opts...)
	defer d.Cancel()
	cancel := m.Subscribe(func(f *canconf.CANFrame) {
		reg.Route(f)
		d.HandleFrame(f)
	})
	defer cancel()

	pb := bar.New(len(reqs), "sending requests")
	defer func() {
		if !pb.IsFinished() {
			pb.Finish()
			fmt.Println()
		}
	}()

	// rejected duplicates never produce a result
	expected := len(reqs)
	for _, r := range reqs {
		if err := d.Queue(r); err != nil {
			expected--
			pb.Add(1)
		}
	}

	var failed int
	for i := 0; i < expected; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-results:
			pb.Add(1)
			if r.Err != nil {
				failed++
				log.Printf("%s %s: %v", r.Device, r.Request.Description, r.Err)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(reqs))
	}
	return nil
}

// newRequest keys a request by the device base id, the frame id minus the
// configured request offset.
func newRequest(frame *canconf.CANFrame, description string) (dispatch.Request, error) {
	if len(frame.Data) <= max(cfg.Dispatch.PrefixByte, cfg.Dispatch.IndexByte) {
		return dispatch.Request{}, fmt.Errorf("request 0x%X needs prefix and index bytes", frame.Identifier)
	}
	base, err := cfg.RequestBase(frame.Identifier)
	if err != nil {
		return dispatch.Request{}, err
	}
	if _, ok := cfg.Device(base); !ok && len(cfg.Devices) > 0 {
		log.Printf("request 0x%X: no configured device with base id 0x%X", frame.Identifier, base)
	}
	return dispatch.Request{
		Key: dispatch.Key{
			BaseID: base,
			Prefix: frame.Data[cfg.Dispatch.PrefixByte],
			Index:  frame.Data[cfg.Dispatch.IndexByte],
		},
		Frame:       frame,
		Description: description,
	}, nil
}

func readBatch(path string) ([]dispatch.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reqs []dispatch.Request
	sc := bufio.NewScanner(f)
	var n int
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		frameArg, desc, _ := strings.Cut(line, " ")
		id, data, err := parseFrameArg(frameArg)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, n, err)
		}
		desc = strings.TrimSpace(desc)
		if desc == "" {
			desc = "line " + strconv.Itoa(n)
		}
		req, err := newRequest(canconf.NewFrame(id, data, canconf.Outgoing), desc)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, n, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, sc.Err()
}

// encodeSignals writes name=value pairs into data using the layouts of
// message id found in dbcFile.
func encodeSignals(dbcFile string, id uint32, data []byte, pairs []string) ([]byte, error) {
	if dbcFile == "" {
		return nil, errors.New("--signal needs --dbc")
	}
	layouts := make(map[string]dbc.Signal)
	for _, s := range dbc.ParseFile(dbcFile, log.Printf) {
		if s.MessageID == id {
			layouts[s.Name] = s
		}
	}
	payload := make([]byte, canconf.MaxPayload)
	copy(payload, data)
	for _, p := range pairs {
		name, valStr, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("signal %q is not <name>=<value>", p)
		}
		s, found := layouts[name]
		if !found {
			return nil, fmt.Errorf("no signal %s in message 0x%X", name, id)
		}
		v, err := strconv.ParseFloat(valStr, 64)
		if err != nil {
			return nil, fmt.Errorf("signal %s: %w", name, err)
		}
		if err := dbc.Encode(payload, s, v); err != nil {
			return nil, err
		}
	}
	return payload, nil
}
