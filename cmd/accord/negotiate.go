// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/kadirpekel/accord/pkg/builder"
	"github.com/kadirpekel/accord/pkg/engine"
	"github.com/kadirpekel/accord/pkg/event"
	"github.com/kadirpekel/accord/pkg/session"
)

// NegotiateCmd runs one negotiation from the terminal, streaming events
// to stdout and prompting for confirmation of the formulated demand.
type NegotiateCmd struct {
	Intent string `arg:"" help:"The raw demand to negotiate."`

	Scope   string `help:"Agent scope (all or scene:<id>)." default:"all"`
	KStar   *int   `name:"k-star" help:"Activation fan-out (overrides config)."`
	UserID  string `name:"user-id" help:"User identifier attached to the demand."`
	SceneID string `name:"scene-id" help:"Scene identifier attached to the demand."`
	Yes     bool   `short:"y" help:"Accept the formulated demand without prompting."`
}

func (c *NegotiateCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	cfg, loader, err := loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	pusher := event.NewChannelPusher(cfg.Events.BufferSize)
	b := builder.FromConfig(cfg).WithPusher(pusher)
	defer b.Close()

	eng, err := b.Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	sess := eng.NewSession(session.DemandSnapshot{
		RawIntent: c.Intent,
		UserID:    c.UserID,
		SceneID:   c.SceneID,
	})
	events, unsubscribe := pusher.Subscribe(sess.ID())
	defer unsubscribe()

	// Non-interactive stdin cannot answer the confirmation prompt;
	// fall back to accepting the formulated text as-is.
	autoConfirm := c.Yes || !term.IsTerminal(int(os.Stdin.Fd()))

	done := make(chan error, 1)
	go func() {
		_, err := eng.StartNegotiation(ctx, sess, engine.RunOptions{
			Scope:       c.Scope,
			KStar:       c.KStar,
			AutoConfirm: autoConfirm,
		})
		done <- err
	}()

	fmt.Printf("negotiation %s\n", sess.ID())

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	prompted := false

	var runErr error
loop:
	for {
		select {
		case <-sigCh:
			fmt.Println("\ncancelling...")
			_ = eng.Cancel(sess.ID())

		case ev := <-events:
			printEvent(ev)

		case <-ticker.C:
			if !prompted && !autoConfirm && eng.IsAwaitingConfirmation(sess.ID()) {
				prompted = true
				text, err := promptConfirmation(sess.FormulatedText())
				if err != nil {
					return err
				}
				if err := eng.ConfirmFormulation(sess.ID(), text); err != nil {
					return fmt.Errorf("confirmation failed: %w", err)
				}
			}

		case err := <-done:
			runErr = err
			break loop
		}
	}

	drainEvents(events)
	printOutcome(sess)
	return runErr
}

// promptConfirmation shows the formulated demand and reads an optional
// revision. An empty line accepts the text as formulated.
func promptConfirmation(formulated string) (string, error) {
	fmt.Printf("\nformulated demand:\n  %s\n", formulated)
	fmt.Print("press Enter to accept, or type a revision: ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func printEvent(ev event.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		data = []byte("{}")
	}
	fmt.Printf("[%s] %s\n", ev.EventType, data)
}

func drainEvents(events <-chan event.Event) {
	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			printEvent(ev)
		default:
			return
		}
	}
}

func printOutcome(sess *session.Session) {
	snap := sess.Snapshot()
	fmt.Printf("\nstatus: %s  rounds: %d  participants: %d\n",
		snap.Status, snap.CenterRounds, len(snap.Participants))
	for _, p := range snap.Participants {
		fmt.Printf("  - %s (%s, score %.2f)\n", p.AgentID, p.State, p.ResonanceScore)
	}
	if snap.PlanOutput != nil {
		fmt.Printf("\nplan:\n%s\n", *snap.PlanOutput)
	} else {
		fmt.Println("\nno plan produced")
	}
}
