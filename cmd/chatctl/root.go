package main

import (
	"os"

	"messenger/internal/client"
	clog "messenger/internal/log"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// app 保存全局参数以及当前命令使用的会话。
type app struct {
	server      string
	sessionPath string
	verbose     bool

	state   *stored
	session *client.Session
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Command line client for the messenger server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := zerolog.InfoLevel
			if a.verbose {
				level = zerolog.DebugLevel
			}
			log.Logger = clog.New("dev", os.Stderr).Level(level)
			return a.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.persist()
		},
	}
	server := os.Getenv("MESSENGER_URL")
	if server == "" {
		server = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&a.server, "server", server, "server base URL (env MESSENGER_URL)")
	root.PersistentFlags().StringVar(&a.sessionPath, "session", defaultSessionPath(), "file that stores the login session")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		a.registerCmd(),
		a.loginCmd(),
		a.logoutCmd(),
		a.meCmd(),
		a.chatsCmd(),
		a.createChatCmd(),
		a.joinCmd(),
		a.leaveCmd(),
		a.membersCmd(),
		a.seenCmd(),
		a.sendCmd(),
		a.readCmd(),
		a.watchCmd(),
		a.seedCmd(),
	)
	return root
}

// open 用本地保存的 token 创建会话；切换服务器时忽略旧 token。
func (a *app) open() error {
	st, err := loadStored(a.sessionPath)
	if err != nil {
		return err
	}
	var opts []client.Option
	if st.Server == a.server {
		opts = append(opts, client.WithTokens(st.Tokens))
	} else {
		st = &stored{Server: a.server}
	}
	a.state = st
	a.session = client.NewSession(client.New(a.server, opts...))
	return nil
}

// persist 保存可能被刷新过的 token。退出登录后不再写回。
func (a *app) persist() error {
	if a.session == nil || a.state == nil {
		return nil
	}
	tokens := a.session.Tokens()
	if tokens.RefreshToken == "" {
		return nil
	}
	a.state.Tokens = tokens
	if u := a.session.User(); u != nil {
		a.state.User = u
	}
	return saveStored(a.sessionPath, a.state)
}

// userID 返回当前登录用户，必要时向服务端查询。
func (a *app) userID(cmd *cobra.Command) (string, error) {
	if a.state.User != nil {
		return a.state.User.ID, nil
	}
	me, err := a.session.Me(cmd.Context())
	if err != nil {
		return "", err
	}
	a.state.User = me
	return me.ID, nil
}
