package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/hyperengineering/looper/internal/client"
	"github.com/hyperengineering/looper/internal/gateway"
	"github.com/hyperengineering/looper/internal/model"
	"github.com/hyperengineering/looper/internal/replica"
	"github.com/spf13/cobra"
)

var (
	createTakeType string
	muteMidi       bool
	muteOff        bool
	echoOff        bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a synth, chain or take",
}

var createSynthCmd = &cobra.Command{
	Use:   "synth NAME",
	Short: "Create a synth",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return edit(cmd, func(ctx context.Context, gw *gateway.Gateway) error {
			id, err := gw.CreateSynth(ctx, args[0])
			return printCreated(cmd.OutOrStdout(), "synth", id, err)
		})
	},
}

var createChainCmd = &cobra.Command{
	Use:   "chain SYNTH NAME",
	Short: "Create a chain in a synth",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args[:1])
		if err != nil {
			return err
		}
		return edit(cmd, func(ctx context.Context, gw *gateway.Gateway) error {
			id, err := gw.CreateChain(ctx, ids[0], args[1])
			return printCreated(cmd.OutOrStdout(), "chain", id, err)
		})
	},
}

var createTakeCmd = &cobra.Command{
	Use:   "take SYNTH CHAIN NAME",
	Short: "Create a take in a chain",
	Long:  "Creates a take. An Audio take is created together with its MIDI take.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args[:2])
		if err != nil {
			return err
		}
		kind := model.TakeKind(createTakeType)
		if kind != model.KindAudio && kind != model.KindMidi {
			return fmt.Errorf("invalid take type %q: must be Audio or Midi", createTakeType)
		}
		return edit(cmd, func(ctx context.Context, gw *gateway.Gateway) error {
			id, err := gw.CreateTake(ctx, ids[0], ids[1], args[2], kind)
			return printCreated(cmd.OutOrStdout(), "take", id, err)
		})
	},
}

var muteCmd = &cobra.Command{
	Use:   "mute SYNTH CHAIN TAKE",
	Short: "Mute or unmute a take",
	Long: "Mutes the audio path of an audio take, or with --midi a MIDI take. " +
		"Unmuting an audio take unmutes its associated MIDI takes as well.",
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return edit(cmd, func(ctx context.Context, gw *gateway.Gateway) error {
			return setMute(ctx, gw, ids, muteMidi, !muteOff)
		})
	},
}

var echoCmd = &cobra.Command{
	Use:   "echo SYNTH CHAIN",
	Short: "Make a chain the synth's echo chain",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return edit(cmd, func(ctx context.Context, gw *gateway.Gateway) error {
			return gw.SetEcho(ctx, ids[0], ids[1], !echoOff)
		})
	},
}

var finishCmd = &cobra.Command{
	Use:   "finish SYNTH CHAIN TAKE",
	Short: "Stop recording a take",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return edit(cmd, func(ctx context.Context, gw *gateway.Gateway) error {
			return gw.FinishRecording(ctx, ids[0], ids[1], ids[2])
		})
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Rewind the transport to the start of the loop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return edit(cmd, func(ctx context.Context, gw *gateway.Gateway) error {
			gw.RestartTransport(ctx)
			return nil
		})
	},
}

func init() {
	createTakeCmd.Flags().StringVar(&createTakeType, "type", string(model.KindAudio), "Take type: Audio or Midi")
	createCmd.AddCommand(createSynthCmd, createChainCmd, createTakeCmd)

	muteCmd.Flags().BoolVar(&muteMidi, "midi", false, "Address a MIDI take")
	muteCmd.Flags().BoolVar(&muteOff, "off", false, "Unmute instead of mute")
	echoCmd.Flags().BoolVar(&echoOff, "off", false, "Turn echo off instead of on")
}

// edit runs fn against a gateway over a freshly bootstrapped replica.
func edit(cmd *cobra.Command, fn func(context.Context, *gateway.Gateway) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cl, err := newClient(cfg)
	if err != nil {
		return err
	}
	return editWith(cmd.Context(), cl, gateway.Config{
		RequestTimeout: time.Duration(cfg.Client.RequestTimeout),
	}, fn)
}

// editWith loads the replica, runs fn and waits for every request fn sent.
// Edits whose request failed are returned as one error.
func editWith(ctx context.Context, cl *client.Client, cfg gateway.Config, fn func(context.Context, *gateway.Gateway) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r := replica.New()
	if err := bootstrap(ctx, cl, r); err != nil {
		return err
	}

	var mu sync.Mutex
	var failures []error
	cfg.OnFailure = func(action string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, fmt.Errorf("%s: %w", action, err))
	}
	gw := gateway.New(cl, r, gateway.LogAlerter{}, cfg)

	err := fn(ctx, gw)
	gw.Wait()
	if err != nil {
		return err
	}
	return errors.Join(failures...)
}

func setMute(ctx context.Context, gw *gateway.Gateway, ids []int64, midi, muted bool) error {
	if midi {
		return gw.SetMidiMute(ctx, ids[0], ids[1], ids[2], muted)
	}
	return gw.SetAudioMute(ctx, ids[0], ids[1], ids[2], muted)
}

func printCreated(out io.Writer, kind string, id int64, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Created %s %d\n", kind, id)
	return nil
}

// parseIDs parses entity ids given on the command line.
func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, len(args))
	for i, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("invalid id %q", a)
		}
		ids[i] = id
	}
	return ids, nil
}
