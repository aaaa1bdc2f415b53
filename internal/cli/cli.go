// Package cli implements the shared command-line entry point behind
// the fget, fput, and combined fabtsuite binaries: flag parsing,
// signal handling, and wiring into fabtsuite.Run. Factored out of
// cmd/ so all three mains share one implementation instead of
// triplicating it.
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/fabtsuite/fabtsuite"
	"github.com/fabtsuite/fabtsuite/internal/fabric/loopback"
	"github.com/fabtsuite/fabtsuite/internal/logging"
	"github.com/fabtsuite/fabtsuite/internal/session"
)

// Main is the shared entry point. defaultPersonality is what an
// unambiguous invocation (argv0 == "fget" or "fput") implies; the
// combined "fabtsuite" binary requires --put/--get explicitly. It
// returns the process exit code (spec §6.3: "0 on success, non-zero
// on any fabric error, assignment failure, or worker failure").
func Main(args []string, defaultPersonality *fabtsuite.Personality) int {
	flags := pflag.NewFlagSet(args[0], pflag.ContinueOnError)

	bindAddr := flags.StringP("bind", "b", "", "passive listen address (get personality)")
	reRegister := flags.BoolP("rereg", "r", false, "re-register each payload buffer's memory region on every transfer")
	contiguous := flags.BoolP("contiguous", "g", false, "RDMA-contiguous mode: cap remote segments at 1")
	repeats := flags.Int("repeats", fabtsuite.DefaultRepeats, "number of times the reference text is produced/verified")
	maxWorkers := flags.Int("max-workers", fabtsuite.DefaultMaxWorkers, "worker pool upper bound")
	sessionsPerHalf := flags.Int("sessions-per-half", fabtsuite.DefaultSessionsPerHalf, "session slots per worker half")
	metricsAddr := flags.String("metrics-addr", "", "if set, serve Prometheus /metrics on this address")
	put := flags.Bool("put", false, "run the put (transmitter) personality")
	get := flags.Bool("get", false, "run the get (receiver) personality")
	localDemo := flags.Bool("local-demo", false, "run both personalities in-process over the loopback fabric (no real network provider is implemented; see DESIGN.md)")

	if err := flags.Parse(args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logConfig := logging.DefaultConfig()
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	var registry prometheus.Registerer
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		registry = reg
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("metrics server stopped: %v", err)
			}
		}()
		logger.Infof("metrics listening on %s", *metricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	installSignalHandlers(cancel, logger)

	params := fabtsuite.DefaultParams()
	params.BindAddr = *bindAddr
	params.Repeats = *repeats
	params.MaxWorkers = *maxWorkers
	params.SessionsPerHalf = *sessionsPerHalf
	if *reRegister {
		params.MRMode = session.MRModeReRegister
	}
	if *contiguous {
		params.RMAMaxSegs = fabtsuite.ContiguousRMAMaxSegs
	}

	if flags.NArg() > 0 {
		params.PeerAddr = flags.Arg(0)
	}

	switch {
	case *put:
		params.Personality = fabtsuite.PersonalityPut
	case *get:
		params.Personality = fabtsuite.PersonalityGet
	case defaultPersonality != nil:
		params.Personality = *defaultPersonality
	default:
		fmt.Fprintln(os.Stderr, "fabtsuite: one of --put or --get is required")
		return 1
	}

	options := &fabtsuite.Options{Logger: logger, Registry: registry}

	if *localDemo {
		return runLocalDemo(ctx, params, options, logger)
	}

	logger.Warnf("no network fabric provider is wired into this build; " +
		"this invocation will block waiting for a peer over the loopback " +
		"fabric, which never rendezvous across OS processes (see " +
		"DESIGN.md). Use --local-demo to exercise the full engine.")

	dom := loopback.NewDomain()
	handle, err := fabtsuite.Run(ctx, dom, params, options)
	if err != nil {
		logger.Errorf("run failed: %v", err)
		return 1
	}
	if err := handle.Wait(); err != nil {
		logger.Errorf("session failed: %v", err)
		return 1
	}
	return 0
}

// runLocalDemo brings up both personalities against one shared
// loopback domain in this process, the only configuration that
// actually transfers data without a real network fabric provider.
func runLocalDemo(ctx context.Context, params fabtsuite.Params, options *fabtsuite.Options, logger *logging.Logger) int {
	dom := loopback.NewDomain()
	addr := params.BindAddr
	if addr == "" {
		addr = "local-demo"
	}

	getParams := params
	getParams.Personality = fabtsuite.PersonalityGet
	getParams.BindAddr = addr
	getParams.PeerAddr = addr

	putParams := params
	putParams.Personality = fabtsuite.PersonalityPut
	putParams.BindAddr = addr
	putParams.PeerAddr = addr

	type result struct {
		handle *fabtsuite.Handle
		err    error
	}
	getCh := make(chan result, 1)
	go func() {
		h, err := fabtsuite.Run(ctx, dom, getParams, options)
		getCh <- result{h, err}
	}()

	time.Sleep(20 * time.Millisecond)

	putHandle, err := fabtsuite.Run(ctx, dom, putParams, options)
	if err != nil {
		logger.Errorf("put run failed: %v", err)
		return 1
	}

	getResult := <-getCh
	if getResult.err != nil {
		logger.Errorf("get run failed: %v", getResult.err)
		putHandle.Cancel()
		putHandle.Wait()
		return 1
	}

	putErr := putHandle.Wait()
	getErr := getResult.handle.Wait()
	if putErr != nil {
		logger.Errorf("put session failed: %v", putErr)
		return 1
	}
	if getErr != nil {
		logger.Errorf("get session failed: %v", getErr)
		return 1
	}
	logger.Info("local demo transfer completed successfully")
	return 0
}

// installSignalHandlers wires SIGHUP/SIGINT/SIGQUIT/SIGTERM to cancel
// and SIGUSR1 to dump goroutine stacks to stderr and a timestamped
// file.
func installSignalHandlers(cancel context.CancelFunc, logger *logging.Logger) {
	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n=== END ===\n\n", buf[:n])
			filename := fmt.Sprintf("fabtsuite-stacks-%d.txt", time.Now().Unix())
			if f, err := os.Create(filename); err == nil {
				f.Write(buf[:n])
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logger.Infof("stack dump written to %s", filename)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, cancelling")
		cancel()
	}()
}
