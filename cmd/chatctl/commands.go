package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"messenger/internal/client"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func (a *app) registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register USERNAME PASSWORD",
		Short: "Create an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.session.Register(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s)\n", u.Username, u.ID)
			return nil
		},
	}
}

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login USERNAME PASSWORD",
		Short: "Log in and store the session locally",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := a.session.Login(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			a.state = &stored{Server: a.server, User: u}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s, %d chats\n", u.Username, len(a.session.ChatList()))
			return nil
		},
	}
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.session.Logout(cmd.Context()); err != nil {
				return err
			}
			if err := removeStored(a.sessionPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}

func (a *app) meCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the logged in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := a.session.Me(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", u.ID, u.Username)
			return nil
		},
	}
}

func (a *app) chatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List joined chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			chats, err := a.session.Chats(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range chats {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.ID, c.Name)
			}
			return nil
		},
	}
}

func (a *app) createChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "create-chat NAME",
		Aliases: []string{"createChat"},
		Short:   "Create a chat and join it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.session.CreateChat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.ID, c.Name)
			return nil
		},
	}
}

func (a *app) joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join CHAT_ID",
		Short: "Join a chat, or rejoin one you left",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cu, err := a.session.JoinChat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "joined %s, last seen %s\n", cu.ChatID, cu.LastSeen.Format(time.RFC3339))
			return nil
		},
	}
}

func (a *app) leaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave CHAT_ID",
		Short: "Leave a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.session.LeaveChat(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "left %s\n", args[0])
			return nil
		},
	}
}

func (a *app) membersCmd() *cobra.Command {
	var (
		count     int
		afterUser string
		afterTime string
	)
	cmd := &cobra.Command{
		Use:   "members CHAT_ID",
		Short: "List chat members, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cursor *client.Cursor
			if afterUser != "" || afterTime != "" {
				at, err := time.Parse(time.RFC3339Nano, afterTime)
				if err != nil || afterUser == "" {
					return errors.New("--after-user and --after-time must be given together, time in RFC3339")
				}
				cursor = &client.Cursor{UserID: afterUser, CreatedAt: at}
			}
			page, err := a.session.ChatUsers(cmd.Context(), args[0], count, cursor)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, cu := range page.ChatUsers {
				name := ""
				if cu.User != nil {
					name = cu.User.Username
				}
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", cu.UserID, name,
					cu.CreatedAt.Format(time.RFC3339Nano), cu.LastSeen.Format(time.RFC3339))
			}
			if page.HasMore && len(page.ChatUsers) > 0 {
				last := page.ChatUsers[len(page.ChatUsers)-1]
				fmt.Fprintf(out, "more: --after-user %s --after-time %s\n", last.UserID, last.CreatedAt.Format(time.RFC3339Nano))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 20, "page size, -1 for all")
	cmd.Flags().StringVar(&afterUser, "after-user", "", "cursor: user id of the last row")
	cmd.Flags().StringVar(&afterTime, "after-time", "", "cursor: createdAt of the last row")
	return cmd
}

// parseSeen 解析 seen 命令的时间参数，缺省为当前时间。
func parseSeen(args []string, now time.Time) (time.Time, error) {
	if len(args) < 2 {
		return now, nil
	}
	t, err := time.Parse(time.RFC3339Nano, args[1])
	if err != nil {
		return time.Time{}, errors.Wrap(err, "last seen must be RFC3339")
	}
	return t, nil
}

func (a *app) seenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seen CHAT_ID [TIME]",
		Short: "Advance your last seen marker in a chat",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseSeen(args, time.Now())
			if err != nil {
				return err
			}
			changed, err := a.session.ChangeLastSeen(cmd.Context(), args[0], at)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintln(cmd.OutOrStdout(), "unchanged: stored last seen is already newer")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "last seen %s\n", at.UTC().Format(time.RFC3339Nano))
			return nil
		},
	}
}

func (a *app) sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send CHAT_ID TEXT...",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.session.SendMessage(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", m.ID, m.CreatedAt.Format(time.RFC3339Nano))
			return nil
		},
	}
}

// readCmd 打印最近的消息。打印出的消息视为可见，按可见性规则推进已读位置。
func (a *app) readCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "read CHAT_ID",
		Short: "Print recent messages and mark them as seen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			chatID := args[0]
			uid, err := a.userID(cmd)
			if err != nil {
				return err
			}
			cu, err := a.session.ChatUser(ctx, uid, chatID)
			if err != nil {
				return err
			}
			a.session.Tracker.Update(chatID, cu.LastSeen)

			msgs, _, err := a.session.Messages(ctx, chatID, count)
			if err != nil {
				return err
			}
			sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
			var observed []*client.Observation
			for _, m := range msgs {
				mark := " "
				if obs := a.session.Tracker.Observe(chatID, m.CreatedAt); obs != nil {
					mark = "*"
					observed = append(observed, obs)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s: %s\n", mark, m.CreatedAt.Local().Format("15:04:05"), m.Author.Username, m.Text)
			}
			// 从最新的消息开始回调，较旧的观察在重新检查时自动跳过。
			for i := len(observed) - 1; i >= 0; i-- {
				if err := observed[i].Intersect(ctx, true); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 20, "number of messages, -1 for all")
	return cmd
}

type subscription struct {
	query string
	arg   string
}

var subscriptions = map[string]subscription{
	"lastSeenChanged": {`subscription($id: ID!) { lastSeenChanged(userId: $id) { chatId userId lastSeen } }`, "userId"},
	"chatUserJoined":  {`subscription($id: ID!) { chatUserJoined(chatId: $id) { chatId userId status lastSeen } }`, "chatId"},
	"chatUserLeaved":  {`subscription($id: ID!) { chatUserLeaved(chatId: $id) { chatId userId status deletedAt } }`, "chatId"},
	"chatUserUpdated": {`subscription($id: ID!) { chatUserUpdated(chatId: $id) { chatId userId status lastSeen } }`, "chatId"},
	"chatJoined":      {`subscription($id: ID!) { chatJoined(userId: $id) { id name } }`, "userId"},
	"chatLeaved":      {`subscription($id: ID!) { chatLeaved(userId: $id) { id name } }`, "userId"},
	"messageCreated":  {`subscription($id: ID!) { messageCreated(chatId: $id) { id text createdAt author { username } } }`, "chatId"},
}

func subscriptionNames() []string {
	names := make([]string, 0, len(subscriptions))
	for n := range subscriptions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "watch EVENT ID",
		Short:     "Stream subscription events until interrupted",
		Long:      "EVENT is one of: " + strings.Join(subscriptionNames(), ", "),
		Args:      cobra.ExactArgs(2),
		ValidArgs: subscriptionNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, ok := subscriptions[args[0]]
			if !ok {
				return errors.Errorf("unknown event %q", args[0])
			}
			log.Debug().Str("event", args[0]).Str(sub.arg, args[1]).Msg("subscribing")
			err := a.session.Subscribe(cmd.Context(), sub.query, map[string]interface{}{"id": args[1]},
				func(data jsoniter.RawMessage) error {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), string(data))
					return err
				})
			if errors.Is(err, cmd.Context().Err()) {
				return nil
			}
			return err
		},
	}
}
