package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/PaulBabatuyi/nearchat/internal/directory"
	"github.com/PaulBabatuyi/nearchat/internal/messaging"
	"github.com/PaulBabatuyi/nearchat/internal/normalize"
	"github.com/spf13/cobra"
)

func newMigrateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create indexes (MongoDB) or tables (SQL)",
		Long: `Prepares the configured store.

MongoDB: creates the users, profiles and messages indexes.
SQLite/MySQL: creates or updates the users, profiles and messages tables.

Safe to run multiple times.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.be.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store\n", s.cfg.Store.Driver)
			return nil
		},
	}
}

func newConversationsCmd(open opener) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "Print a user's conversation list",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			convs, err := messaging.ListConversations(cmd.Context(), s.be.Store(), userID, time.Now(), s.cfg.Location(), s.log)
			if err != nil {
				return err
			}
			return writeConversations(cmd.OutOrStdout(), convs)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newThreadCmd(open opener) *cobra.Command {
	var userID, with string
	var markRead bool
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Print the messages between two users",
		Long: `Prints the thread between --user and --with, oldest first.

With --mark-read the thread is loaded as --user would see it in the app: unread
messages addressed to --user are marked read.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			var msgs []messaging.Message
			if markRead {
				sess := messaging.NewThreadSession(userID, with, s.be.Store(), nil, messaging.Options{Logger: s.log})
				msgs, err = sess.Load(cmd.Context())
				if cerr := sess.Close(cmd.Context()); err == nil {
					err = cerr
				}
			} else {
				msgs, err = s.be.Store().Thread(cmd.Context(), userID, with)
			}
			if err != nil {
				return err
			}
			return writeThread(cmd.OutOrStdout(), msgs, userID, s.cfg.Location())
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&with, "with", "", "counterpart user id")
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "mark unread messages addressed to --user as read")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("with")
	return cmd
}

func newSendCmd(open opener) *cobra.Command {
	var from, to, content string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message on behalf of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(normalize.Text(content))
			if text == "" {
				return errors.New("send: content is empty")
			}
			if from == to {
				return errors.New("send: sender and receiver are the same user")
			}
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			m, err := s.be.Store().InsertMessage(cmd.Context(), messaging.NewMessage{SenderID: from, ReceiverID: to, Content: text})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s\n", m.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "sender user id")
	cmd.Flags().StringVar(&to, "to", "", "receiver user id")
	cmd.Flags().StringVar(&content, "content", "", "message text")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func newNearbyCmd(open opener) *cobra.Command {
	var userID string
	var lat, lon, maxKm float64
	var limit int
	cmd := &cobra.Command{
		Use:   "nearby",
		Short: "List the profiles a user can browse",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := directory.Query{Limit: limit, MaxKm: maxKm}
			latSet, lonSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lon")
			if latSet != lonSet {
				return errors.New("nearby: --lat and --lon must be given together")
			}
			if latSet {
				q.Origin = &directory.Point{Latitude: lat, Longitude: lon}
			}

			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			nearby, err := directory.ListNearby(cmd.Context(), s.be.Directory(), userID, q)
			if err != nil {
				return err
			}
			return writeNearby(cmd.OutOrStdout(), nearby)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().Float64Var(&lat, "lat", 0, "origin latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "origin longitude")
	cmd.Flags().Float64Var(&maxKm, "max-km", 0, "maximum distance in km (needs --lat/--lon)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of profiles")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newProfileCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage profiles",
	}

	var id, name string
	var lat, lon float64
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a profile for an existing user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			p := messaging.Profile{ID: id}
			if n := normalize.Name(name); n != "" {
				p.Name = &n
				avatar := messaging.PlaceholderAvatar(n)
				p.Avatar = &avatar
			}
			if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon") {
				p.Latitude, p.Longitude = &lat, &lon
			}
			if err := s.be.Directory().CreateProfile(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created profile %s\n", id)
			return nil
		},
	}
	add.Flags().StringVar(&id, "id", "", "user id")
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().Float64Var(&lat, "lat", 0, "latitude")
	add.Flags().Float64Var(&lon, "lon", 0, "longitude")
	_ = add.MarkFlagRequired("id")

	var online bool
	presence := &cobra.Command{
		Use:   "presence",
		Short: "Set a profile online or offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := directory.SetPresence(cmd.Context(), s.be.Directory(), id, online, time.Now()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s online=%t\n", id, online)
			return nil
		},
	}
	presence.Flags().StringVar(&id, "id", "", "user id")
	presence.Flags().BoolVar(&online, "online", true, "presence to record")
	_ = presence.MarkFlagRequired("id")

	cmd.AddCommand(add, presence)
	return cmd
}

func writeConversations(out io.Writer, convs []messaging.Conversation) error {
	if len(convs) == 0 {
		fmt.Fprintln(out, "no conversations")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTIME\tUNREAD\tMESSAGE")
	for _, c := range convs {
		unread := ""
		if c.Unread {
			unread = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Time, unread, c.Message)
	}
	return w.Flush()
}

func writeThread(out io.Writer, msgs []messaging.Message, userID string, loc *time.Location) error {
	if len(msgs) == 0 {
		fmt.Fprintln(out, "no messages")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tFROM\tREAD\tCONTENT")
	for _, m := range msgs {
		from := m.SenderID
		if from == userID {
			from = "me"
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", m.CreatedAt.In(loc).Format("2006-01-02 15:04"), from, m.Read, m.Content)
	}
	return w.Flush()
}

func writeNearby(out io.Writer, nearby []directory.Nearby) error {
	if len(nearby) == 0 {
		fmt.Fprintln(out, "no profiles")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tONLINE\tDISTANCE")
	for i := range nearby {
		n := &nearby[i]
		dist := "-"
		if n.DistanceKm != nil {
			dist = fmt.Sprintf("%.1f km", *n.DistanceKm)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", n.ID, messaging.DisplayName(&n.Profile), n.Online, dist)
	}
	return w.Flush()
}
