package main

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"actorcore/internal/agent"
	"actorcore/internal/coop"
	"actorcore/internal/env"
	"actorcore/internal/hsm"
	"actorcore/internal/logging"
	"actorcore/internal/message"
	"actorcore/internal/subscription"
	"actorcore/internal/tracing"
)

var (
	okLine   = color.New(color.FgGreen).SprintFunc()
	hopLine  = color.New(color.FgCyan).SprintFunc()
	warnLine = color.New(color.FgYellow).SprintFunc()
)

type pingMsg struct{ n int }
type pongMsg struct{ n int }

func runPingPong(cmd *cobra.Command, _ []string) error {
	e, err := env.New()
	if err != nil {
		return fmt.Errorf("construct environment: %w", err)
	}

	sinks := []tracing.Sink{tracing.NewMemorySink(256)}
	if wsTraceAddr != "" {
		wsSink := tracing.NewWebSocketSink()
		server := &http.Server{Addr: wsTraceAddr, Handler: wsSink}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				e.Logger.Warn("websocket trace server stopped", logging.Error(err))
			}
		}()
		defer server.Close()
		sinks = append(sinks, wsSink)
		fmt.Println(okLine(fmt.Sprintf("serving websocket trace feed on %s", wsTraceAddr)))
	}
	if grpcTraceAddr != "" {
		lis, err := net.Listen("tcp", grpcTraceAddr)
		if err != nil {
			return fmt.Errorf("listen for grpc trace export: %w", err)
		}
		grpcSink := tracing.NewGRPCSink()
		grpcServer := grpc.NewServer()
		tracing.RegisterTraceExportServer(grpcServer, grpcSink)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				e.Logger.Warn("grpc trace server stopped", logging.Error(err))
			}
		}()
		defer grpcServer.Stop()
		sinks = append(sinks, grpcSink)
		fmt.Println(okLine(fmt.Sprintf("serving grpc trace export on %s", grpcTraceAddr)))
	}
	trace := tracing.NewMultiSink(sinks...)

	var mu sync.Mutex
	completed := 0
	done := make(chan struct{})

	pingState := hsm.MustNewState("ping-default", nil)
	pongState := hsm.MustNewState("pong-default", nil)
	var pingAgent, pongAgent *agent.Agent

	pongDefine := func(a *agent.Agent) error {
		return a.Subscribe(a.ID(), message.TypeOf[pingMsg](), pongState, &subscription.Record{
			Disposition: subscription.Final,
			Fn: func(msg message.Message) error {
				in := msg.Payload().(pingMsg)
				trace.RecordStep(tracing.Step{CoopName: "ping-pong", AgentName: "pong", MessageType: "pingMsg", Kind: "delivered"})
				fmt.Println(hopLine(fmt.Sprintf("pong received ping #%d", in.n)))
				return pingAgent.DirectMbox().Deliver(message.Ordinary,
					message.NewClassical(pongMsg{n: in.n}, message.Immutable, nil))
			},
		})
	}

	pingDefine := func(a *agent.Agent) error {
		return a.Subscribe(a.ID(), message.TypeOf[pongMsg](), pingState, &subscription.Record{
			Disposition: subscription.Final,
			Fn: func(msg message.Message) error {
				in := msg.Payload().(pongMsg)
				trace.RecordStep(tracing.Step{CoopName: "ping-pong", AgentName: "ping", MessageType: "pongMsg", Kind: "delivered"})
				fmt.Println(hopLine(fmt.Sprintf("ping received pong #%d", in.n)))

				mu.Lock()
				completed++
				n := completed
				mu.Unlock()
				if n >= rounds {
					close(done)
					return nil
				}
				return pongAgent.DirectMbox().Deliver(message.Ordinary,
					message.NewClassical(pingMsg{n: in.n + 1}, message.Immutable, nil))
			},
		})
	}

	runErr := e.Run(true, func(e *env.Environment) error {
		demo := coop.New("ping-pong", e.RootCoop(), nil)
		pongAgent = agent.New(pongState, pongDefine, e.NewAgentHooks(demo), demo.Usage(), nil)
		pingAgent = agent.New(pingState, pingDefine, e.NewAgentHooks(demo), demo.Usage(), nil)
		if err := demo.AddAgent(pongAgent, 0); err != nil {
			return err
		}
		if err := demo.AddAgent(pingAgent, 0); err != nil {
			return err
		}
		if err := demo.Register(e.DefaultBinder()); err != nil {
			return err
		}
		fmt.Println(okLine(fmt.Sprintf("running %d ping-pong round trips", rounds)))
		return pongAgent.DirectMbox().Deliver(message.Ordinary,
			message.NewClassical(pingMsg{n: 1}, message.Immutable, nil))
	})
	if runErr != nil {
		return runErr
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		fmt.Println(warnLine("ping-pong demo timed out waiting for completion"))
	}

	e.Stop()
	fmt.Println(okLine("environment stopped"))
	return nil
}
