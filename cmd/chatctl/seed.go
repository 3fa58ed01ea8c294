package main

import (
	"context"
	"fmt"
	"strings"

	"messenger/internal/client"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type seedOptions struct {
	users    int
	chats    int
	messages int
	password string
	seed     int64
}

// seedCmd 通过公开接口生成演示数据：注册用户、建群、加入、发消息、退出再加入。
func (a *app) seedCmd() *cobra.Command {
	opts := seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill the server with fake users, chats and messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.users < 1 || opts.chats < 1 {
				return fmt.Errorf("--users and --chats must be positive")
			}
			return seed(cmd.Context(), a.server, opts, cmd)
		},
	}
	cmd.Flags().IntVar(&opts.users, "users", 10, "number of users")
	cmd.Flags().IntVar(&opts.chats, "chats", 3, "number of chats")
	cmd.Flags().IntVar(&opts.messages, "messages", 50, "number of messages")
	cmd.Flags().StringVar(&opts.password, "password", "password", "password for every seeded user")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "random seed, 0 for a random one")
	return cmd
}

func seed(ctx context.Context, server string, opts seedOptions, cmd *cobra.Command) error {
	faker := gofakeit.New(opts.seed)

	sessions := make([]*client.Session, 0, opts.users)
	for i := 0; i < opts.users; i++ {
		s := client.NewSession(client.New(server))
		name := fmt.Sprintf("%s_%d", strings.ToLower(faker.Username()), faker.Number(1000, 9999))
		if _, err := s.Register(ctx, name, opts.password); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
		if _, err := s.Login(ctx, name, opts.password); err != nil {
			return fmt.Errorf("login %s: %w", name, err)
		}
		sessions = append(sessions, s)
	}

	chats := make([]*client.Chat, 0, opts.chats)
	members := make(map[string][]*client.Session)
	for i := 0; i < opts.chats; i++ {
		owner := sessions[faker.Number(0, len(sessions)-1)]
		c, err := owner.CreateChat(ctx, faker.AppName())
		if err != nil {
			return fmt.Errorf("create chat: %w", err)
		}
		chats = append(chats, c)
		members[c.ID] = []*client.Session{owner}
		for _, s := range sessions {
			if s == owner || !faker.Bool() {
				continue
			}
			if _, err := s.JoinChat(ctx, c.ID); err != nil {
				return fmt.Errorf("join %s: %w", c.ID, err)
			}
			members[c.ID] = append(members[c.ID], s)
		}
	}

	for i := 0; i < opts.messages; i++ {
		c := chats[faker.Number(0, len(chats)-1)]
		ms := members[c.ID]
		author := ms[faker.Number(0, len(ms)-1)]
		m, err := author.SendMessage(ctx, c.ID, faker.Sentence(faker.Number(3, 12)))
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		// 部分成员读到这条消息
		for _, s := range ms {
			if faker.Number(0, 3) == 0 {
				if _, err := s.ChangeLastSeen(ctx, c.ID, m.CreatedAt); err != nil {
					return fmt.Errorf("change last seen: %w", err)
				}
			}
		}
	}

	// 每个聊天挑一位非群主成员退出后重新加入
	for _, c := range chats {
		ms := members[c.ID]
		if len(ms) < 2 {
			continue
		}
		s := ms[1]
		if _, err := s.LeaveChat(ctx, c.ID); err != nil {
			return fmt.Errorf("leave %s: %w", c.ID, err)
		}
		if _, err := s.JoinChat(ctx, c.ID); err != nil {
			return fmt.Errorf("rejoin %s: %w", c.ID, err)
		}
	}

	log.Info().Int("users", len(sessions)).Int("chats", len(chats)).Int("messages", opts.messages).Msg("seed done")
	for _, s := range sessions {
		fmt.Fprintln(cmd.OutOrStdout(), s.User().Username)
	}
	return nil
}
