package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/rowmodel/pkg/rowmodel"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print change events caused by other processes",
		Long: `Watch the database file for commits made by other processes and print
one JSON line per change event until interrupted.

Only instances loaded by this process are reloaded, so inserts and updates
elsewhere show up as "unspecified" events for their type.

Example:
  rowmodel watch --db app.db --schema schema.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, cmd)
		},
	}
}

// EventLine is the JSON form of one change event.
type EventLine struct {
	Seq    int64          `json:"seq"`
	Type   string         `json:"type"`
	Kind   string         `json:"kind"`
	Keys   []any          `json:"keys,omitempty"`
	Fields []string       `json:"fields,omitempty"`
	Old    map[string]any `json:"old,omitempty"`
}

func newEventLine(ev rowmodel.Event) EventLine {
	line := EventLine{
		Seq:    ev.Seq,
		Type:   ev.Type.Name(),
		Kind:   ev.Kind.String(),
		Fields: ev.ChangedFields,
		Old:    ev.OldValues,
	}
	for _, inst := range ev.Instances {
		line.Keys = append(line.Keys, inst.Key())
	}
	return line
}

func runWatch(opts *RootOptions, cmd *cobra.Command) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			opts.Logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	db, err := openDB(ctx, opts, rowmodel.WithWatchExternal(opts.Config.WatchDebounce))
	if err != nil {
		return err
	}
	defer db.Close()

	// Hold every row so updates and deletes are reported per instance.
	var loaded []*rowmodel.Instance
	for _, t := range db.Types() {
		insts, err := db.AllInstances(ctx, t)
		if err != nil {
			return WrapExitError(ExitFailure, "initial load failed", err)
		}
		loaded = append(loaded, insts...)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	unsubscribe := db.Subscribe(nil, func(_ context.Context, ev rowmodel.Event) {
		if err := enc.Encode(newEventLine(ev)); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			opts.Logger.Warn("failed to write event", "error", err)
		}
	})
	defer unsubscribe()

	opts.Logger.Info("watching for external changes", "db", db.Path(), "types", len(db.Types()))
	<-ctx.Done()
	runtime.KeepAlive(loaded)
	opts.Logger.Info("watch stopped", "last_seq", db.LastEventSeq())
	return nil
}
