package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/keywave/internal/app"
	"github.com/conneroisu/keywave/internal/engine"
)

var playPack string

var playCmd = &cobra.Command{
	Use:   "play <key>",
	Short: "Preview the sound for a key",
	Long: `Preview the sound the active pack resolves for a key identifier,
for example "KeyA", "Space", or "Return".

When a daemon is running on the configured bind address the preview is
sent there; otherwise the pack is loaded in-process and played directly.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().StringVar(&playPack, "pack", "", "preview against this pack instead of the active one")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	keyID := args[0]

	// A running daemon owns the audio device; prefer it.
	if playPack == "" && daemonPlay(cfg.Server.Bind, keyID) {
		fmt.Fprintf(cmd.OutOrStdout(), "played %s via daemon\n", keyID)
		return nil
	}

	log := newLogger(cfg)

	svc, err := app.New(cfg, engine.NewSpeakerOutput(), log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop(ctx)

	if playPack != "" {
		if err := svc.SetActivePack(ctx, playPack); err != nil {
			return err
		}
	}

	svc.Play(keyID)

	// Let the voice drain before the process exits.
	time.Sleep(time.Second)

	return nil
}

// daemonPlay submits the preview to a running daemon, reporting whether
// it was accepted.
func daemonPlay(bind, keyID string) bool {
	payload, err := json.Marshal(map[string]string{"key": keyID})
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+bind+"/api/play", bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusAccepted
}
