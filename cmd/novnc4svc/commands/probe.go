package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-the-way/novnc4svc/internal/capture"
	"github.com/go-the-way/novnc4svc/internal/config"
	"github.com/go-the-way/novnc4svc/internal/logging"
	"github.com/go-the-way/novnc4svc/internal/metrics"
	"github.com/go-the-way/novnc4svc/internal/rfb"
	"github.com/go-the-way/novnc4svc/internal/util"
	"github.com/go-the-way/novnc4svc/internal/websock"
)

type probeOptions struct {
	url         string
	target      string
	capturePath string
	shared      bool
}

func NewProbeCmd() *cobra.Command {
	var (
		opts    probeOptions
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe <ws-url>",
		Short: "Connect to a VNC server over websockify and run the RFB handshake",
		Long: `Dial a websockify endpoint, negotiate the RFB version and security type,
authenticate if required and print what the server reports in ServerInit.`,
		Example: `  novnc4svc probe ws://10.0.0.5:6080/websockify
  novnc4svc probe wss://vnc.example.com/websockify --target lab --capture lab.cap`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts.url = args[0]

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runProbe(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.shared, "shared", false, "Ask the server to keep other clients connected")
	cmd.Flags().StringVar(&opts.capturePath, "capture", "", "Record frames to this CBOR capture file")
	cmd.Flags().StringVar(&opts.target, "target", "", "Keyring target holding the VNC password")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout for dial and handshake")

	return cmd
}

func runProbe(ctx context.Context, out, prompt io.Writer, cfg *config.Config, opts probeOptions) error {
	collector := metrics.NewCollector()
	sessOpts := []websock.Option{
		websock.WithSessionConfig(cfg.Session),
		websock.WithObserver(collector),
	}

	capturePath := opts.capturePath
	if capturePath == "" {
		capturePath = cfg.Capture.Path
	}
	if capturePath != "" {
		rec, err := capture.NewFileRecorder(capturePath)
		if err != nil {
			return fmt.Errorf("failed to open capture file: %w", err)
		}
		defer rec.Close()
		sessOpts = append(sessOpts, websock.WithRecorder(rec))
	}

	session := websock.NewSession(nil, sessOpts...)
	auditTarget := opts.target
	if auditTarget == "" {
		auditTarget = opts.url
	}
	rfbCfg := rfb.Config{
		Password: passwordSource(opts.target, prompt),
		Shared:   opts.shared,
		Target:   auditTarget,
		Auth:     collector,
	}

	readLimit := cfg.Dial.ReadLimitBytes
	if readLimit == 0 {
		readLimit = int64(cfg.Session.ReceiveMaxBytes)
	}
	dialOpts := websock.DialOptions{
		Subprotocols:     cfg.Dial.Subprotocols,
		HandshakeTimeout: cfg.Dial.HandshakeTimeout(),
		ReadLimit:        readLimit,
	}

	retry := util.RetryConfigFromDial(cfg.Dial)
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		logging.Warn("dial failed, retrying",
			"attempt", attempt,
			"delay", delay.String(),
			logging.Err(err),
			logging.Component("cli"))
	}

	start := time.Now()
	// A failed dial closes the session and ends that attempt's handshake,
	// so each attempt gets a fresh client.
	var client *rfb.Client
	res := util.Retry(ctx, retry, func() error {
		client = rfb.NewClient(session, rfbCfg)
		return session.Open(ctx, opts.url, dialOpts)
	})
	if res.LastError != nil {
		return fmt.Errorf("failed to connect after %d attempt(s): %w", res.Attempts, res.LastError)
	}
	collector.RecordLatency("dial", time.Since(start))

	si, err := client.Wait(ctx)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	collector.RecordLatency("handshake", elapsed)
	defer session.Close()

	pf := si.PixelFormat
	color := "true color"
	if !pf.TrueColor {
		color = "color map"
	}
	fmt.Fprintf(out, "Name:       %s\n", si.Name)
	fmt.Fprintf(out, "Geometry:   %dx%d\n", si.Width, si.Height)
	fmt.Fprintf(out, "Protocol:   RFB %s\n", client.Version())
	fmt.Fprintf(out, "Security:   %s\n", client.Security())
	fmt.Fprintf(out, "Pixels:     %d bpp, depth %d, %s\n", pf.BitsPerPixel, pf.Depth, color)
	fmt.Fprintf(out, "Elapsed:    %s\n", elapsed.Round(time.Millisecond))
	return nil
}
