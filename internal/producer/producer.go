// Package producer is the message producer command: a one-shot --count run
// with a progress bar, or an interactive menu.
package producer

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/time/rate"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/message"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/publisher"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/sink"
)

// BatchOfTen is what menu option 2 sends.
const BatchOfTen = 10

type Options struct {
	ConfigPath  string
	Count       int
	PrintConfig bool
}

// Interactive is true unless --count was given.
func (o Options) Interactive() bool { return o.Count < 0 }

// ParseArgs reads the command line. Usage errors are written to out.
func ParseArgs(args []string, out io.Writer) (Options, error) {
	o := Options{Count: -1}
	fs := flag.NewFlagSet("producer", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.ConfigPath, "config", "config.yaml", "path to the YAML config file")
	fs.IntVar(&o.Count, "count", -1, "send N generated messages and exit; omit for the interactive menu")
	fs.BoolVar(&o.PrintConfig, "print-config", false, "print the effective configuration and exit")
	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	// The FlagSet reports its own parse errors; these are reported the same way.
	fail := func(err error) (Options, error) {
		fmt.Fprintln(out, err)
		fs.Usage()
		return Options{}, err
	}
	counted := false
	fs.Visit(func(f *flag.Flag) { counted = counted || f.Name == "count" })
	if counted && o.Count < 0 {
		return fail(fmt.Errorf("--count must not be negative, got %d", o.Count))
	}
	if fs.NArg() > 0 {
		return fail(fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " ")))
	}
	return o, nil
}

type App struct {
	pub *publisher.Publisher
	gen *message.Generator
	in  *bufio.Reader
	out io.Writer
	bar *progressbar.ProgressBar
}

// New builds the producer on top of a configured sink.
func New(s sink.Adapter, cfg config.Config, gen *message.Generator, in io.Reader, out io.Writer) (*App, error) {
	codec, err := message.CodecFor(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stream.ErrConfiguration, err)
	}
	a := &App{gen: gen, in: bufio.NewReader(in), out: out}
	opts := []publisher.Option{
		publisher.WithMaxBatchBytes(cfg.MaxBatchBytes),
		publisher.WithRetry(cfg.PublishRetry.Attempts, cfg.PublishRetry.Backoff),
		publisher.WithCodec(codec),
		publisher.WithBatchHook(a.onBatch),
	}
	if r := cfg.Producer.RatePerSecond; r > 0 {
		opts = append(opts, publisher.WithLimiter(rate.NewLimiter(rate.Limit(r), max(cfg.Producer.Burst, 1))))
	}
	a.pub = publisher.New(s, cfg.StreamID, opts...)
	return a, nil
}

// Generator seeds from cfg, or from the clock when the seed is zero.
func Generator(cfg config.Config) *message.Generator {
	seed := cfg.Producer.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return message.NewGenerator(rand.New(rand.NewSource(seed)))
}

func (a *App) onBatch(r publisher.BatchResult) {
	if a.bar != nil {
		_ = a.bar.Add(len(r.IDs))
		return
	}
	if r.Err != nil {
		fmt.Fprintf(a.out, "Batch %d failed after %d attempt(s): %v\n", r.Index, r.Attempts, r.Err)
		return
	}
	fmt.Fprintf(a.out, "Sent batch %d: %d message(s), %d bytes\n", r.Index, len(r.IDs), r.Bytes)
}

// SendCount sends n random messages behind a progress bar. It fails when
// any message was not accepted.
func (a *App) SendCount(ctx context.Context, n int) (publisher.Report, error) {
	fmt.Fprintf(a.out, "Sending %d messages...\n", n)
	a.bar = progressbar.NewOptions(n,
		progressbar.OptionSetWriter(a.out),
		progressbar.OptionSetDescription("publishing"),
		progressbar.OptionShowCount(),
	)
	rep, err := a.pub.Publish(ctx, a.gen.Batch(n))
	_ = a.bar.Finish()
	a.bar = nil
	fmt.Fprintln(a.out)
	a.summarize(rep)
	if err != nil {
		return rep, err
	}
	if rep.Failed > 0 {
		return rep, fmt.Errorf("%d of %d messages were not sent", rep.Failed, n)
	}
	return rep, nil
}

func (a *App) summarize(rep publisher.Report) {
	if rep.Sent > 0 {
		fmt.Fprintf(a.out, "Successfully sent %d messages in %d batch(es)\n", rep.Sent, len(rep.Batches))
	}
	for _, o := range rep.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(a.out, "Failed to send message %s: %v\n", o.MessageID, o.Err)
		}
	}
}

func (a *App) send(ctx context.Context, msgs ...message.Message) error {
	rep, err := a.pub.Publish(ctx, msgs)
	for _, o := range rep.Outcomes {
		if o.Err == nil {
			fmt.Fprintf(a.out, "Sent message %s\n", o.MessageID)
		}
	}
	a.summarize(publisher.Report{Outcomes: rep.Outcomes})
	return err
}

const menu = `========================================
       INTERACTIVE MODE MENU
========================================
  1 - Send single random message
  2 - Send batch of 10 messages
  3 - Send custom message
  q - Quit
`

// Interactive runs the menu until q, end of input or ctx is done.
func (a *App) Interactive(ctx context.Context) error {
	fmt.Fprint(a.out, menu+"\n")
	for {
		fmt.Fprint(a.out, "Enter choice: ")
		line, ok := a.readLine()
		if !ok {
			fmt.Fprintln(a.out)
			return nil
		}
		var err error
		switch strings.ToLower(line) {
		case "1":
			err = a.send(ctx, a.gen.Random())
		case "2":
			fmt.Fprintf(a.out, "Sending %d messages...\n", BatchOfTen)
			err = a.send(ctx, a.gen.Batch(BatchOfTen)...)
		case "3":
			fmt.Fprint(a.out, "Enter your message text: ")
			text, _ := a.readLine()
			err = a.send(ctx, a.gen.Custom(text))
		case "q":
			fmt.Fprintln(a.out, "Exiting...")
			return nil
		default:
			fmt.Fprintln(a.out, "Invalid choice. Please try again.")
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out)
	}
}

func (a *App) readLine() (string, bool) {
	line, err := a.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", false
	}
	return strings.TrimSpace(line), true
}

// Run loads the sink from cfg and executes the mode chosen by opts.
func Run(ctx context.Context, opts Options, cfg config.Config, in io.Reader, out io.Writer) error {
	if err := cfg.ValidateProducer(); err != nil {
		return err
	}
	s, err := sink.NewAdapter(cfg.Sink.Driver)
	if err != nil {
		return err
	}
	if err := s.Configure(ctx, cfg.Sink); err != nil {
		return fmt.Errorf("sink %s: %w", cfg.Sink.Driver, err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			logging.L().Warn("close sink", "err", err)
		}
	}()

	app, err := New(s, cfg, Generator(cfg), in, out)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to stream: %s (%s)\n\n", cfg.StreamID, cfg.Sink.Driver)
	if opts.Interactive() {
		err = app.Interactive(ctx)
	} else {
		_, err = app.SendCount(ctx, opts.Count)
	}
	if err == nil {
		fmt.Fprintln(out, "\nProducer completed successfully")
	}
	return err
}
