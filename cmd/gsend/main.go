// Command gsend streams a G-code file to a GRBL controller.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/mastercactapus/cncstream/config"
	"github.com/mastercactapus/cncstream/connect"
	"github.com/mastercactapus/cncstream/grbl"
	"github.com/mastercactapus/cncstream/machine"
	"github.com/mastercactapus/cncstream/metrics"
	"github.com/mastercactapus/cncstream/stream"
)

var errInterrupted = errors.New("interrupted, machine was reset")

type flags struct {
	config    string
	transport string
	port      string
	baud      int
	spjs      string
	buffer    int
	metrics   string
	logLevel  string
	simulate  bool
	quiet     bool
}

func parseFlags(args []string) (flags, []string, error) {
	var f flags
	fs := flag.NewFlagSet("gsend", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: gsend [flags] FILE")
		fmt.Fprintln(fs.Output(), "Streams FILE (or - for stdin) to the controller.")
		fs.PrintDefaults()
	}
	fs.StringVarP(&f.config, "config", "c", "", "Load configuration from a YAML file.")
	fs.StringVar(&f.transport, "transport", "", "Controller transport (serial, spjs, sim).")
	fs.StringVarP(&f.port, "port", "p", "", "Serial port name.")
	fs.IntVarP(&f.baud, "baud", "b", 0, "Serial baud rate.")
	fs.StringVar(&f.spjs, "spjs", "", "SPJS websocket URL, implies --transport=spjs.")
	fs.IntVar(&f.buffer, "buffer-size", 0, "Override the controller receive buffer size.")
	fs.StringVar(&f.metrics, "metrics-addr", "", "Serve Prometheus metrics on this address.")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error).")
	fs.BoolVar(&f.simulate, "simulate", false, "Stream to a simulated controller.")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "Do not print progress.")

	err := fs.Parse(args)
	if err != nil {
		return f, nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return f, nil, errors.New("exactly one file is required")
	}
	return f, fs.Args(), nil
}

// apply overrides cfg with the flags that were set.
func (f flags) apply(cfg *config.Config) {
	if f.transport != "" {
		cfg.Transport = f.transport
	}
	if f.port != "" {
		cfg.Serial.Port = f.port
	}
	if f.baud != 0 {
		cfg.Serial.Baud = f.baud
	}
	if f.spjs != "" {
		cfg.Transport = config.SPJS
		cfg.SPJS.URL = f.spjs
		if f.port != "" {
			cfg.SPJS.Port = f.port
		}
	}
	if f.buffer != 0 {
		cfg.Stream.BufferSize = f.buffer
	}
	if f.metrics != "" {
		cfg.Metrics.Addr = f.metrics
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.simulate {
		cfg.Transport = config.Sim
	}
}

func main() {
	f, args, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(2)
	}

	cfg, err := config.Load(f.config)
	if err == nil {
		f.apply(&cfg)
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(2)
	}

	log, err := cfg.Log.Logger(os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var progress io.Writer = os.Stderr
	if f.quiet {
		progress = io.Discard
	}

	err = run(ctx, cfg, args[0], log, progress)
	if err != nil {
		log.Error("stream failed", "err", err)
		os.Exit(1)
	}
}

func openJob(name string) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(name)
}

func run(ctx context.Context, cfg config.Config, file string, log *slog.Logger, progress io.Writer) error {
	job, err := openJob(file)
	if err != nil {
		return fmt.Errorf("open job: %w", err)
	}

	dialer := connect.NewDialer(cfg, log)
	defer dialer.Close()

	link, err := dialer.Controller(ctx)
	if err != nil {
		job.Close()
		return fmt.Errorf("connect: %w", err)
	}
	defer link.Close()

	col := metrics.New()
	ctrl, err := machine.NewController(link, grbl.New(), machine.Options{
		Logger:         log,
		BufferSize:     cfg.Stream.BufferSize,
		LineTerminator: cfg.Stream.LineTerminator,
		Observers:      []stream.Observer{col},
	})
	if err != nil {
		job.Close()
		return err
	}
	col.Bind(ctrl)
	link.SetNotify(func() {
		err := ctrl.DataAvailable()
		if err != nil {
			log.Error("controller data", "err", err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	streamCtx, stop := context.WithCancel(gctx)
	defer stop()

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		err = col.Register(reg)
		if err != nil {
			job.Close()
			return err
		}
		g.Go(func() error { return serveMetrics(streamCtx, cfg.Metrics.Addr, reg, log) })
	}

	if cfg.StatusInterval > 0 {
		g.Go(func() error {
			err := ctrl.Poll(streamCtx, cfg.StatusInterval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	ctrl.SetJob(file, job)
	g.Go(func() error {
		defer stop()
		return streamJob(streamCtx, ctx, ctrl, progress)
	})

	return g.Wait()
}

// streamJob runs the loaded job until it completes. When sigCtx is canceled
// the machine is held and reset.
func streamJob(ctx, sigCtx context.Context, ctrl *machine.Controller, progress io.Writer) error {
	err := ctrl.StartJob()
	if err != nil {
		return err
	}

	var last machine.JobStatus
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(progress)
			if sigCtx.Err() == nil {
				return ctx.Err()
			}
			err := errors.Join(ctrl.CommandFeedHold(), ctrl.CommandReset())
			if err != nil {
				return fmt.Errorf("stop machine: %w", err)
			}
			return errInterrupted
		case last = <-ctrl.JobStatus():
		}

		printProgress(progress, last)
		if last.Err != nil {
			fmt.Fprintln(progress)
			return last.Err
		}
		if last.Done {
			fmt.Fprintln(progress)
			return waitIdle(ctx, ctrl)
		}
	}
}

func waitIdle(ctx context.Context, ctrl *machine.Controller) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return ctrl.WaitIdle(ctx)
}

func printProgress(w io.Writer, st machine.JobStatus) {
	total := fmt.Sprint(st.Read)
	if !st.ReadComplete {
		total += "+"
	}
	fmt.Fprintf(w, "\r%s: %5.1f%% sent %d, done %d of %s", st.Name, st.Progress()*100, st.Sent, st.Completed, total)
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	log.Info("serving metrics", "addr", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("metrics server: %w", err)
}
