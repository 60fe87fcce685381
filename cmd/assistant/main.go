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
		Use:   "assistant",
		Short: "Single voice assistant agent",
		Setup: func(rt *cli.Runtime) (worker.Entrypoint, error) {
			p, ok := rt.Personas.FindByRole(persona.RoleAssistant)
			if !ok {
				return nil, fmt.Errorf("no persona plays %q", persona.RoleAssistant)
			}
			return func(job *worker.JobContext) error {
				return conversation.RunAssistant(job, rt.Configurator, p)
			}, nil
		},
	})
}
