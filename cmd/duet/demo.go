package main

import (
	"github.com/spf13/cobra"
)

const demoRequest = "Create a mountain terrain with grass on midlands and rocks in lowlands"

func demoCmd() *cobra.Command {
	var flags outputFlags
	cmd := &cobra.Command{
		Use:   "demo [request]",
		Short: "Run a scripted revise-then-approve refinement without an LLM backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.LLM.Provider = "mock"
			cfg.Refinement.MaxIterations = 3

			request := demoRequest
			if len(args) > 0 {
				if request, err = readRequest(cmd.InOrStdin(), "", args); err != nil {
					return err
				}
			}
			return refine(cmd, cfg, request, flags)
		},
	}
	flags.register(cmd)
	return cmd
}
