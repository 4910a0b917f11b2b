package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ahrav/go-beacon/internal/application"
	"github.com/ahrav/go-beacon/internal/domain"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatSnapshot(w io.Writer, s *domain.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Snapshot:\t%s\n", s.ID)
	fmt.Fprintf(tw, "Client:\t%s\n", s.ClientID)
	fmt.Fprintf(tw, "Prompt pack:\t%s\n", s.PromptPackVersion)
	fmt.Fprintf(tw, "Status:\t%s\n", s.Status)
	fmt.Fprintf(tw, "Started:\t%s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
	if s.CompletedAt != nil {
		fmt.Fprintf(tw, "Completed:\t%s\n", s.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if s.OverallScore != nil {
		fmt.Fprintf(tw, "Overall score:\t%d\n", *s.OverallScore)
	}
	for _, p := range domain.KnownProviders {
		if score, ok := s.ScoreByProvider[string(p)]; ok {
			fmt.Fprintf(tw, "  %s:\t%d\n", p, score)
		}
	}
	if s.Error != nil {
		fmt.Fprintf(tw, "Error:\t%s\n", *s.Error)
	}
	_ = tw.Flush()
}

func formatReport(w io.Writer, r *application.Report) {
	formatSnapshot(w, r.Snapshot)

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tPROMPT\tMODEL\tPARSED\tLATENCY\tDETAIL")
	for _, resp := range r.Responses {
		detail := ""
		switch {
		case resp.Error != nil:
			detail = truncate(*resp.Error, 60)
		case resp.Extraction != nil:
			detail = fmt.Sprintf("%s/%s", resp.Extraction.ClientPosition, resp.Extraction.RecommendationStrength)
		}
		fmt.Fprintf(tw, "%s\t%d:%s\t%s\t%t\t%dms\t%s\n",
			resp.Provider, resp.PromptOrdinal, resp.PromptKey, resp.ModelUsed, resp.ParseOK, resp.LatencyMS, detail)
	}
	_ = tw.Flush()

	if len(r.Competitors) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPETITOR\tKNOWN\tMENTIONS\tSHARE")
	for _, c := range r.Competitors {
		fmt.Fprintf(tw, "%s\t%t\t%d\t%.0f%%\n", c.Name, c.Known, c.Mentions, c.Share*100)
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
