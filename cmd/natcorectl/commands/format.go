package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

func formatTransactions(v transactionsView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(v)
	case formatTable:
		return formatTransactionsTable(v), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatTransactionsTable(v transactionsView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "CLIENT TRANSACTIONS")
	fmt.Fprintln(w, "ID\tDEST\tSOURCE\tSTATE")
	for _, c := range v.Clients {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Dest, c.Source, c.State)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SERVER TRANSACTIONS")
	fmt.Fprintln(w, "ID\tLOCAL\tREMOTE")
	for _, s := range v.Servers {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.LocalAddr, s.RemoteAddr)
	}

	_ = w.Flush()
	return buf.String()
}

func formatConversations(v []conversationView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(v)
	case formatTable:
		return formatConversationsTable(v), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatConversationsTable(v []conversationView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "CONVERSATION\tDEST\tSTATE\tCWND\tSSTHRESH\tRTO\tSENT\tRECV")
	for _, c := range v {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%dms\t%d\t%d\n",
			c.Conversation, c.Dest, c.State, c.CWnd, c.SSThresh, c.RTOMillis, c.BytesSent, c.BytesReceived)
	}

	_ = w.Flush()
	return buf.String()
}

func formatListeners(v []listenerView, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(v)
	case formatTable:
		return formatListenersTable(v), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatListenersTable(v []listenerView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	for _, l := range v {
		fmt.Fprintf(w, "%s\tdiscarded=%d\n", l.Addr, l.Discarded)
		for _, a := range l.Acceptors {
			fmt.Fprintf(w, "  %s\tclassified=%d\n", a.Identity, a.Classified)
		}
	}

	_ = w.Flush()
	return buf.String()
}

func marshalIndent(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data), nil
}
