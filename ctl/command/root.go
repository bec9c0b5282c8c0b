package command

import (
	"github.com/spf13/cobra"
	"github.com/tnqbao/gau-music-dispatch/client"
	"github.com/tnqbao/gau-music-dispatch/config"
)

// Env holds the connection flags shared by every command.
type Env struct {
	Server string
	Token  string
	Config *config.EnvConfig
}

func (e *Env) Client() *client.Client {
	return client.New(e.Server, client.WithAdminToken(e.Token))
}

func NewRootCmd(cfg *config.EnvConfig) *cobra.Command {
	env := &Env{Config: cfg}

	cmd := &cobra.Command{
		Use:           "dispatchctl",
		Short:         "Operate the music generation dispatch service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&env.Server, "server", cfg.Agent.ServerURL, "Dispatch server base URL")
	cmd.PersistentFlags().StringVar(&env.Token, "token", "", "Admin bearer token (see 'dispatchctl token')")

	cmd.AddCommand(
		NewSubmitCmd(env),
		NewStatusCmd(env),
		NewCancelCmd(env),
		NewDownloadCmd(env),
		NewOverviewCmd(env),
		NewJobsCmd(env),
		NewWorkersCmd(env),
		NewTokenCmd(env),
	)
	return cmd
}
