package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/segmentio/encoding/json"
	"github.com/spf13/pflag"

	"github.com/DeusData/bep-artifacts-mcp/internal/bep"
)

func describe(ev *bep.Event) string {
	var b strings.Builder
	b.WriteString(ev.ID.Kind.String())
	switch {
	case ev.ID.Configuration != nil:
		fmt.Fprintf(&b, " id=%s", ev.ID.Configuration.ID)
	case ev.ID.NamedSet != nil:
		fmt.Fprintf(&b, " id=%s", ev.ID.NamedSet.ID)
	case ev.ID.TargetCompleted != nil:
		fmt.Fprintf(&b, " label=%s config=%s", ev.ID.TargetCompleted.Label, ev.ID.TargetCompleted.ConfigurationID())
	case ev.ID.ActionCompleted != nil:
		fmt.Fprintf(&b, " label=%s output=%s", ev.ID.ActionCompleted.Label, ev.ID.ActionCompleted.PrimaryOutput)
	}

	switch {
	case ev.Started != nil:
		fmt.Fprintf(&b, " uuid=%s command=%s start=%s", ev.Started.UUID, ev.Started.Command, ev.Started.StartedAt().UTC().Format("2006-01-02T15:04:05Z"))
	case ev.WorkspaceInfo != nil:
		fmt.Fprintf(&b, " exec_root=%s", ev.WorkspaceInfo.LocalExecRoot)
	case ev.WorkspaceStatus != nil:
		fmt.Fprintf(&b, " items=%d", len(ev.WorkspaceStatus.Items))
	case ev.Configuration != nil:
		fmt.Fprintf(&b, " mnemonic=%s", ev.Configuration.Mnemonic)
	case ev.NamedSetOfFiles != nil:
		fmt.Fprintf(&b, " files=%d sets=%d", len(ev.NamedSetOfFiles.Files), len(ev.NamedSetOfFiles.FileSets))
	case ev.Completed != nil:
		groups := make([]string, 0, len(ev.Completed.OutputGroup))
		for _, g := range ev.Completed.OutputGroup {
			groups = append(groups, fmt.Sprintf("%s%v", g.Name, g.FileSetIDs()))
		}
		fmt.Fprintf(&b, " success=%v groups=%s", ev.Completed.Success, strings.Join(groups, ","))
	case ev.Action != nil:
		fmt.Fprintf(&b, " success=%v exit=%d", ev.Action.Success, ev.Action.ExitCode)
	case ev.Finished != nil:
		fmt.Fprintf(&b, " exit=%s(%d)", ev.Finished.ExitCode.Name, ev.Finished.ExitCode.Code)
	}
	if ev.LastMessage {
		b.WriteString(" last")
	}
	return b.String()
}

func dump(w io.Writer, path string, asJSON, filesToo bool) error {
	s, err := bep.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()

	n := 0
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("event %d: %w", n, err)
		}
		n++
		if asJSON {
			b, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(b))
			continue
		}
		fmt.Fprintf(w, "%5d %s\n", n, describe(ev))
		if filesToo && ev.NamedSetOfFiles != nil {
			for _, f := range ev.NamedSetOfFiles.Files {
				fmt.Fprintf(w, "      %s/%s %s\n", strings.Join(f.PathPrefix, "/"), f.Name, f.URI)
			}
		}
	}
	if !asJSON {
		fmt.Fprintf(w, "== %d events, %d bytes (%s)\n", n, s.BytesConsumed(), s.Format)
	}
	return nil
}

func main() {
	fs := pflag.NewFlagSet("bep_dump", pflag.ExitOnError)
	asJSON := fs.Bool("json", false, "print each event as one JSON line")
	filesToo := fs.BoolP("files", "f", false, "list the files of every named set")
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: bep_dump [--json] [--files] <bep-file>...")
		os.Exit(2)
	}
	for _, path := range fs.Args() {
		if fs.NArg() > 1 && !*asJSON {
			fmt.Printf("=== %s ===\n", path)
		}
		if err := dump(os.Stdout, path, *asJSON, *filesToo); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
	}
}
