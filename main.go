// Command flowsnoop traces TCP connection establishment and UDP
// datagram crossings system-wide and streams one structured record per
// observed event to the configured sinks.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/flowsnoop/flowsnoop/capture"
	"github.com/flowsnoop/flowsnoop/consumer"
	"github.com/flowsnoop/flowsnoop/platform"
	"github.com/flowsnoop/flowsnoop/portstate"
	"github.com/flowsnoop/flowsnoop/sink"
)

const defaultBPFObject = "/usr/lib/flowsnoop/flowsnoop.bpf.o"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "flowsnoop",
		Short:         "Trace TCP connections and UDP datagrams system-wide",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrace(cmd.Context(), v)
		},
	}

	flags := root.PersistentFlags()
	flags.String("bpf-object", defaultBPFObject, "path to the compiled BPF object")
	flags.Duration("interval", consumer.DefaultPollInterval, "flow ring polling interval")
	flags.Int("ring-size", capture.DefaultRingCapacity, "flow ring capacity (power of two)")
	flags.Bool("json", false, "emit flows as JSON lines")
	flags.StringSlice("kafka-brokers", nil, "Kafka brokers to publish flows to")
	flags.String("kafka-topic", "flows", "Kafka topic for published flows")
	flags.Bool("debug", false, "log capture diagnostics")

	if err := v.BindPFlags(flags); err != nil {
		log.Fatal(err)
	}
	v.SetEnvPrefix("FLOWSNOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(newVerifyCmd(v))
	return root
}

// newVerifyCmd loads and attaches the full capture stack, then tears
// it down again. Useful to check the BPF object against the running
// kernel without tracing anything.
func newVerifyCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Load and attach the capture programs, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stack, err := buildStack(v)
			if err != nil {
				return err
			}
			stack.close()
			log.Println("capture programs attached and detached cleanly")
			return nil
		},
	}
}

// stack bundles the composed capture pipeline.
type stack struct {
	engine  *capture.Engine
	ports   *portstate.Table
	monitor platform.Monitor
}

func (s *stack) close() {
	s.monitor.Close()
	s.engine.Detach()
	s.ports.Reset()
}

func buildStack(v *viper.Viper) (*stack, error) {
	ports := portstate.NewTable()

	var diag capture.Diag = capture.NopDiag{}
	var diagChan *capture.ChanDiag
	if v.GetBool("debug") {
		diagChan = capture.NewChanDiag(1024)
		diag = diagChan
	}

	engine, err := capture.NewEngine(capture.Config{
		RingCapacity: v.GetInt("ring-size"),
		Oracle:       ports,
		Diag:         diag,
	})
	if err != nil {
		return nil, err
	}

	if n, err := ports.Seed(); err != nil {
		log.Printf("warning: seeding bound UDP ports: %v", err)
	} else {
		log.Printf("seeded %d bound UDP ports", n)
	}

	engine.Attach()

	monitor, err := platform.NewMonitor(platform.Config{
		ObjectPath: v.GetString("bpf-object"),
		Engine:     engine,
		Ports:      ports,
	})
	if err != nil {
		engine.Detach()
		return nil, err
	}

	if diagChan != nil {
		go func() {
			for msg := range diagChan.C {
				log.Printf("diag: %s", msg)
			}
		}()
	}

	return &stack{engine: engine, ports: ports, monitor: monitor}, nil
}

func runTrace(ctx context.Context, v *viper.Viper) error {
	stack, err := buildStack(v)
	if err != nil {
		return err
	}
	defer stack.close()

	sinks := []sink.Sink{sink.NewStdout(os.Stdout, v.GetBool("json"))}
	if brokers := v.GetStringSlice("kafka-brokers"); len(brokers) > 0 {
		k := sink.NewKafka(brokers, v.GetString("kafka-topic"))
		defer k.Close()
		sinks = append(sinks, k)
	}

	names, err := consumer.NewProcessNames(4096)
	if err != nil {
		return err
	}

	drainer, err := consumer.New(consumer.Config{
		Ring:     stack.engine.Ring(),
		Interval: v.GetDuration("interval"),
		Sinks:    sinks,
		Names:    names,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Println("tracing... press Ctrl+C to stop")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stack.monitor.Run(gctx) })
	g.Go(func() error { return drainer.Run(gctx) })

	err = g.Wait()
	stats := stack.engine.Stats()
	log.Printf("shutting down: %d flows dropped on saturation", stats.Dropped)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
