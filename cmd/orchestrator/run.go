package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-orchestrator/internal/core/domain"
	"github.com/tjfontaine/polyglot-orchestrator/internal/pipeline"
	"github.com/tjfontaine/polyglot-orchestrator/internal/runtime"
)

type runOptions struct {
	pipeline string
	model    string
	system   string
	userID   string
	tools    []string
	stream   bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [flags] prompt",
		Short: "Run one prompt through a pipeline and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := runtime.New(ctx, runtime.WithConfig(a.cfg), runtime.WithLogger(a.logger))
			if err != nil {
				return fmt.Errorf("create orchestrator: %w", err)
			}
			defer rt.Shutdown(context.Background())

			req := opts.request(args[0])
			if opts.stream {
				return streamReply(ctx, cmd, rt, opts.pipeline, req)
			}

			resp, err := rt.Service().Run(ctx, opts.pipeline, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message.Content)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.pipeline, "pipeline", pipeline.ToolLoopID, "pipeline id")
	f.StringVarP(&opts.model, "model", "m", "", "model name (defaults to the policy default)")
	f.StringVar(&opts.system, "system", "", "system prompt")
	f.StringVar(&opts.userID, "user", "", "user id recorded in call logs")
	f.StringSliceVar(&opts.tools, "tool", nil, "tool to bind (repeatable)")
	f.BoolVarP(&opts.stream, "stream", "s", false, "print tokens as they arrive")
	return cmd
}

func (o runOptions) request(prompt string) *domain.ChatRequest {
	var msgs []domain.Message
	if o.system != "" {
		msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: o.system})
	}
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: prompt})

	rc := domain.NewRunContext()
	rc.UserID = o.userID
	return &domain.ChatRequest{
		Messages: msgs,
		Model:    o.model,
		Tools:    o.tools,
		Context:  rc,
	}
}

func streamReply(ctx context.Context, cmd *cobra.Command, rt *runtime.Runtime, pipelineID string, req *domain.ChatRequest) error {
	out := cmd.OutOrStdout()
	for ev, err := range rt.Service().Stream(ctx, pipelineID, req) {
		if err != nil {
			return err
		}
		switch ev.Type {
		case domain.EventToken:
			fmt.Fprint(out, ev.Text())
		case domain.EventToolStart:
			cmd.PrintErrf("[tool %v]\n", ev.Data["tool_name"])
		case domain.EventError:
			fmt.Fprintln(out)
			msg, _ := ev.Data["message"].(string)
			return errors.New(msg)
		}
	}
	fmt.Fprintln(out)
	return nil
}
