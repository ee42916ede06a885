package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/mfalves/dmsync/internal/api"
	"github.com/mfalves/dmsync/internal/archive"
	"github.com/mfalves/dmsync/internal/config"
	"github.com/mfalves/dmsync/internal/session"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

var sessionFlag string

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "dmsyncctl",
		Short:         "Operate a dmsync session from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides config default)")

	root.AddCommand(
		newInitCmd(),
		newStatusCmd(),
		newPeersCmd(),
		newConversationsCmd(),
		newHistoryCmd(),
		newSendCmd(),
		newSearchCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func resolveSession() (string, error) {
	name := session.Resolve(sessionFlag)
	if err := session.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// dialDaemon connects to the running daemon's control socket. All commands
// except init and search go through the daemon so they operate on its live
// engine rather than a throwaway one.
func dialDaemon() (*api.Client, error) {
	name, err := resolveSession()
	if err != nil {
		return nil, err
	}
	return api.Dial(session.SocketPath(name))
}

// friendly rewrites a connection-level failure into something actionable.
func friendly(err error) error {
	if grpcstatus.Code(err) == codes.Unavailable {
		return fmt.Errorf("cannot reach dmsyncd (is it running?): %v", err)
	}
	return err
}

func newInitCmd() *cobra.Command {
	var selfID, role, storeURL string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the session config",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := resolveSession()
			if err != nil {
				return err
			}
			cfg := &config.Session{SelfID: selfID, Role: role, StoreURL: storeURL}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := session.EnsureDir(name); err != nil {
				return err
			}
			path := session.SessionConfigPath(name)
			if err := config.SaveSession(path, cfg); err != nil {
				return err
			}
			fmt.Printf("session %q initialized (%s)\n", name, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&selfID, "self", "", "this participant's id")
	cmd.Flags().StringVar(&role, "role", "initiator", "viewing role: initiator or counterpart")
	cmd.Flags().StringVar(&storeURL, "store-url", "", "Conversation Store base URL")
	_ = cmd.MarkFlagRequired("self")
	_ = cmd.MarkFlagRequired("store-url")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's engine state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialDaemon()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			st, err := client.Status(cmd.Context())
			if err != nil {
				return friendly(err)
			}
			fmt.Println(st.State)
			return nil
		},
	}
}

func newPeersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List known peers and their presence",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialDaemon()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			resp, err := client.ListPeers(cmd.Context())
			if err != nil {
				return friendly(err)
			}
			online := color.New(color.FgGreen).SprintFunc()
			offline := color.New(color.FgHiBlack).SprintFunc()
			for _, p := range resp.Peers {
				mark := offline("○")
				if p.Online {
					mark = online("●")
				}
				fmt.Printf("%s %s  %s\n", mark, p.ID, p.DisplayName)
			}
			return nil
		},
	}
}

func newConversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"convos"},
		Short:   "List conversation summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialDaemon()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			resp, err := client.ListConversations(cmd.Context())
			if err != nil {
				return friendly(err)
			}
			sums := resp.Summaries
			// Display order only; the cache itself is not sorted.
			sort.Slice(sums, func(i, j int) bool {
				return sums[i].LastActivityAt > sums[j].LastActivityAt
			})
			bold := color.New(color.Bold).SprintFunc()
			unreadColor := color.New(color.FgYellow).SprintFunc()
			for _, s := range sums {
				preview := s.Preview
				if s.File {
					preview = "[file] " + preview
				}
				line := fmt.Sprintf("%s  %s", bold(s.PeerID), preview)
				if s.UnreadCount > 0 {
					line += unreadColor(fmt.Sprintf("  (%d unread)", s.UnreadCount))
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <peer-id>",
		Short: "Show a conversation and mark it read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialDaemon()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			resp, err := client.History(cmd.Context(), args[0])
			if err != nil {
				return friendly(err)
			}
			if len(resp.Messages) == 0 {
				fmt.Println("no messages")
				return nil
			}
			printMessages(resp.Messages)
			return nil
		},
	}
}

func newSendCmd() *cobra.Command {
	var file bool
	cmd := &cobra.Command{
		Use:   "send <peer-id> <text>",
		Short: "Send a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dialDaemon()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			resp, err := client.Send(cmd.Context(), args[0], args[1], file)
			if err != nil {
				return friendly(err)
			}
			if resp.Delivery != "confirmed" {
				fmt.Println(color.RedString("not delivered") + " (kept locally, not retried)")
				return nil
			}
			fmt.Println(color.GreenString("delivered"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&file, "file", false, "treat the text as a file reference")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var peerID string
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search the local message archive",
		Long:  "Search reads the session's archive directly, so it works while the daemon is down.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := resolveSession()
			if err != nil {
				return err
			}
			db, err := archive.Open(session.ArchivePath(name))
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			if _, err := db.Migrate(); err != nil {
				return err
			}

			results, err := db.SearchMessages(args[0], peerID, limit)
			if err != nil {
				return err
			}
			hit := color.New(color.FgCyan).SprintFunc()
			for _, r := range results {
				fmt.Printf("%s #%d %s\n", hit(r.Message.PeerID), r.Message.ServerID, r.Snippet)
			}
			if len(results) == 0 {
				fmt.Println("no matches")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&peerID, "peer", "", "restrict to one conversation")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

func printMessages(msgs []api.Message) {
	self := color.New(color.FgGreen).SprintFunc()
	peer := color.New(color.FgCyan).SprintFunc()
	failed := color.New(color.FgRed).SprintFunc()
	for _, m := range msgs {
		who := peer("them")
		if m.Author == "self" {
			who = self("me")
		}
		suffix := ""
		switch m.Delivery {
		case "pending":
			suffix = " …"
		case "failed":
			suffix = failed(" ✗ not delivered")
		}
		body := m.Body
		if m.File {
			body = "[file] " + body
		}
		ts := time.UnixMilli(m.SentAt).Format("2006-01-02 15:04")
		fmt.Printf("%s %s: %s%s\n", ts, who, body, suffix)
	}
}
