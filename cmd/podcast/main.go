package main

import (
	"fmt"

	"github.com/zhouzirui/z-podcast/backend/internal/cli"
	"github.com/zhouzirui/z-podcast/backend/internal/conversation"
	"github.com/zhouzirui/z-podcast/backend/internal/model/persona"
	"github.com/zhouzirui/z-podcast/backend/internal/worker"
)

func main() {
	cli.Execute(cli.App{
		Use:   "podcast",
		Short: "Two-agent host/guest podcast",
		Setup: func(rt *cli.Runtime) (worker.Entrypoint, error) {
			cast, err := castFrom(rt.Personas)
			if err != nil {
				return nil, err
			}
			script := conversation.ScriptFromConfig(rt.Config.Script)
			return func(job *worker.JobContext) error {
				return conversation.RunPodcast(job, rt.Configurator, cast, script)
			}, nil
		},
	})
}

func castFrom(store persona.Store) (conversation.Cast, error) {
	host, ok := store.FindByRole(persona.RoleHost)
	if !ok {
		return conversation.Cast{}, fmt.Errorf("no persona plays %q", persona.RoleHost)
	}
	guest, ok := store.FindByRole(persona.RoleGuest)
	if !ok {
		return conversation.Cast{}, fmt.Errorf("no persona plays %q", persona.RoleGuest)
	}
	return conversation.Cast{Host: host, Guest: guest}, nil
}
