package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	types "github.com/sebas/softphone/api/types/v1"
	"github.com/sebas/softphone/internal/ua/api"
	"github.com/sebas/softphone/internal/ua/control"
	"github.com/sebas/softphone/internal/ua/engine"
	"github.com/sebas/softphone/internal/ua/events"
)

// Controller is the subset of the control client the commands use.
type Controller interface {
	Register(ctx context.Context, cfg engine.AccountConfig) (control.AccountStatus, error)
	Unregister(ctx context.Context) (control.AccountStatus, error)
	Renew(ctx context.Context) (control.AccountStatus, error)
	MakeCall(ctx context.Context, req control.CallRequest) (string, error)
	Answer(ctx context.Context, callID string, code int, reason string) error
	Hangup(ctx context.Context, callID string, code int, reason string) (control.HangupResult, error)
	PlaySong(ctx context.Context, callID, path string) error
	SendMessage(ctx context.Context, callID, text string) error
	DialDTMF(ctx context.Context, callID, digits string) error
	Events(ctx context.Context, pattern string, replay int) (<-chan *events.Event, error)
	Close() error
}

// StatusReader is the subset of the status API client the commands use.
type StatusReader interface {
	Health(ctx context.Context) (*types.HealthResponse, error)
	Account(ctx context.Context) (*types.Account, error)
	Calls(ctx context.Context) ([]types.Call, error)
}

// Dialer opens the clients for one command invocation.
type Dialer interface {
	Control(addr string) (Controller, error)
	Status(baseURL string) StatusReader
}

type defaultDialer struct{}

func (defaultDialer) Control(addr string) (Controller, error) {
	cfg := control.DefaultClientConfig()
	cfg.Address = addr
	return control.Dial(cfg)
}

func (defaultDialer) Status(baseURL string) StatusReader {
	return api.NewClient(baseURL)
}

type globalFlags struct {
	controlAddr string
	apiURL      string
	timeout     time.Duration
}

func newRootCmd(d Dialer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "softphonectl",
		Short:         "Control a running softphone",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.controlAddr, "control", "localhost:9091", "control service address")
	root.PersistentFlags().StringVar(&g.apiURL, "api", "http://localhost:8080", "status API base URL")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 35*time.Second, "command timeout")

	// withControl runs fn with a connected controller and a bounded context.
	withControl := func(cmd *cobra.Command, fn func(ctx context.Context, c Controller) error) error {
		c, err := d.Control(g.controlAddr)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", g.controlAddr, err)
		}
		defer c.Close()
		ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
		defer cancel()
		return fn(ctx, c)
	}

	root.AddCommand(
		newRegisterCmd(withControl),
		newUnregisterCmd(withControl),
		newRenewCmd(withControl),
		newCallCmd(withControl),
		newAnswerCmd(withControl),
		newHangupCmd(withControl),
		newPlayCmd(withControl),
		newMessageCmd(withControl),
		newDTMFCmd(withControl),
		newEventsCmd(d, g),
		newStatusCmd(d, g),
	)
	return root
}

type controlRunner func(cmd *cobra.Command, fn func(ctx context.Context, c Controller) error) error

func newRegisterCmd(run controlRunner) *cobra.Command {
	var cfg engine.AccountConfig
	var cred engine.Credentials
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register the account (the daemon's configured account if --id-uri is empty)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cred.Username != "" {
				cfg.Credentials = []engine.Credentials{cred}
			}
			return run(cmd, func(ctx context.Context, c Controller) error {
				st, err := c.Register(ctx, cfg)
				if err != nil {
					return fmt.Errorf("register failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", st.Account, st.State)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.IDURI, "id-uri", "", "account identity, e.g. sip:alice@example.com")
	f.StringVar(&cfg.Registrar, "registrar", "", "registrar URI")
	f.IntVar(&cfg.Expires, "expires", 0, "registration lifetime in seconds")
	f.StringVar(&cred.Username, "username", "", "digest username")
	f.StringVar(&cred.Password, "password", "", "digest password")
	f.StringVar(&cred.Realm, "realm", "*", "digest realm")
	return cmd
}

func newUnregisterCmd(run controlRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister",
		Short: "Remove the account registration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c Controller) error {
				st, err := c.Unregister(ctx)
				if err != nil {
					return fmt.Errorf("unregister failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", st.Account, st.State)
				return nil
			})
		},
	}
}

func newRenewCmd(run controlRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "renew",
		Short: "Refresh the registration of a registered account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c Controller) error {
				st, err := c.Renew(ctx)
				if err != nil {
					return fmt.Errorf("renew failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", st.Account, st.State)
				return nil
			})
		},
	}
}

func newCallCmd(run controlRunner) *cobra.Command {
	var req control.CallRequest
	cmd := &cobra.Command{
		Use:   "call <destination>",
		Short: "Place an outbound call and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Destination = args[0]
			return run(cmd, func(ctx context.Context, c Controller) error {
				id, err := c.MakeCall(ctx, req)
				if err != nil {
					return fmt.Errorf("call failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.Param, "param", "", "extra call parameter")
	cmd.Flags().IntVar(&req.AudioDeviceID, "device", 0, "audio device id")
	return cmd
}

func newAnswerCmd(run controlRunner) *cobra.Command {
	var code int
	var reason string
	cmd := &cobra.Command{
		Use:   "answer <call-id>",
		Short: "Answer an incoming call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c Controller) error {
				if err := c.Answer(ctx, args[0], code, reason); err != nil {
					return fmt.Errorf("answer failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "answered %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&code, "code", 0, "SIP status code (200 if unset)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason phrase")
	return cmd
}

func newHangupCmd(run controlRunner) *cobra.Command {
	var code int
	var reason string
	cmd := &cobra.Command{
		Use:   "hangup <call-id>",
		Short: "End a call and print its outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c Controller) error {
				res, err := c.Hangup(ctx, args[0], code, reason)
				if err != nil {
					return fmt.Errorf("hangup failed: %w", err)
				}
				out := fmt.Sprintf("%s %s %d", res.CallID, res.Outcome, res.StatusCode)
				if res.Reason != "" {
					out += " " + res.Reason
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&code, "code", 0, "SIP status code (603 if unset)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason phrase")
	return cmd
}

func newPlayCmd(run controlRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "play <call-id> <file>",
		Short: "Play a WAV file to the remote party",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c Controller) error {
				if err := c.PlaySong(ctx, args[0], args[1]); err != nil {
					return fmt.Errorf("play failed: %w", err)
				}
				return nil
			})
		},
	}
}

func newMessageCmd(run controlRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "message <call-id> <text>...",
		Short: "Send an in-dialog instant message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c Controller) error {
				if err := c.SendMessage(ctx, args[0], strings.Join(args[1:], " ")); err != nil {
					return fmt.Errorf("message failed: %w", err)
				}
				return nil
			})
		},
	}
}

func newDTMFCmd(run controlRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "dtmf <call-id> <digits>",
		Short: "Send DTMF digits",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, c Controller) error {
				if err := c.DialDTMF(ctx, args[0], args[1]); err != nil {
					return fmt.Errorf("dtmf failed: %w", err)
				}
				return nil
			})
		},
	}
}

func newEventsCmd(d Dialer, g *globalFlags) *cobra.Command {
	var pattern string
	var replay int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream events as JSON lines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := d.Control(g.controlAddr)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", g.controlAddr, err)
			}
			defer c.Close()
			ch, err := c.Events(cmd.Context(), pattern, replay)
			if err != nil {
				return err
			}
			return printEvents(cmd.OutOrStdout(), ch)
		},
	}
	cmd.Flags().StringVar(&pattern, "pattern", events.PatternAll, "subject pattern")
	cmd.Flags().IntVar(&replay, "replay", 0, "number of past events to print first")
	return cmd
}

func printEvents(out io.Writer, ch <-chan *events.Event) error {
	enc := json.NewEncoder(out)
	for ev := range ch {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

func newStatusCmd(d Dialer, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show account and call status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
			defer cancel()
			return runStatus(ctx, d.Status(g.apiURL), cmd.OutOrStdout())
		},
	}
}

func runStatus(ctx context.Context, s StatusReader, out io.Writer) error {
	h, err := s.Health(ctx)
	if err != nil {
		return fmt.Errorf("softphone is not reachable: %w", err)
	}
	fmt.Fprintf(out, "Node:    %s (up %ds)\n", h.NodeID, h.Uptime)

	acc, err := s.Account(ctx)
	if err != nil {
		fmt.Fprintln(out, "Account: none")
	} else {
		fmt.Fprintf(out, "Account: %s %s\n", acc.ID, acc.State)
	}

	calls, err := s.Calls(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Calls:   %d\n", len(calls))
	for _, c := range calls {
		fmt.Fprintf(out, "  %s %s %s %s\n", c.CallID, c.Direction, c.State, c.RemoteURI)
	}
	return nil
}
