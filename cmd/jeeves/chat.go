package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/soratobu/jeeves/internal/agent"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		rt, err := buildRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		handler := NewSignalHandler(ctx)
		handler.Start()
		go func() {
			<-handler.Done()
			cancel()
		}()

		sessionID, _ := cmd.Flags().GetString("session")
		if sessionID == "" {
			sessionID = fmt.Sprintf("cli-%d", time.Now().Unix())
		}

		repl := newREPL(rt.executor, sessionID)
		return repl.run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringP("session", "s", "", "resume an existing session ID")
}

type repl struct {
	executor  *agent.Executor
	reader    *bufio.Reader
	sessionID string

	headerStyle lipgloss.Style
	promptStyle lipgloss.Style
	answerStyle lipgloss.Style
	errorStyle  lipgloss.Style
}

func newREPL(executor *agent.Executor, sessionID string) *repl {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	red := lipgloss.Color("9")

	return &repl{
		executor:    executor,
		reader:      bufio.NewReader(os.Stdin),
		sessionID:   sessionID,
		headerStyle: lipgloss.NewStyle().Foreground(purple).Bold(true),
		promptStyle: lipgloss.NewStyle().Foreground(purple),
		answerStyle: lipgloss.NewStyle().Foreground(gray),
		errorStyle:  lipgloss.NewStyle().Foreground(red),
	}
}

func (r *repl) run(ctx context.Context) error {
	fmt.Println(r.headerStyle.Render(fmt.Sprintf("Jeeves interactive session: %s", r.sessionID)))
	fmt.Println("Type '/exit' to quit.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := r.readLine(ctx); err != nil {
				if err == io.EOF {
					return nil
				}
				fmt.Println(r.errorStyle.Render(err.Error()))
			}
		}
	}
}

func (r *repl) readLine(ctx context.Context) error {
	fmt.Print(r.promptStyle.Render("> "))
	text, err := r.reader.ReadString('\n')
	if err != nil {
		return err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "/") {
		return r.command(text)
	}

	output, err := r.executor.Process(ctx, r.sessionID, text)
	if err != nil {
		return err
	}

	fmt.Println(r.answerStyle.Render(output))
	return nil
}

func (r *repl) command(text string) error {
	args, err := shlex.Split(text)
	if err != nil || len(args) == 0 {
		return fmt.Errorf("could not parse command: %s", text)
	}

	switch args[0] {
	case "/exit":
		return io.EOF
	case "/session":
		if len(args) > 1 {
			r.sessionID = args[1]
			fmt.Println(r.headerStyle.Render("Switched to session: " + r.sessionID))
		} else {
			fmt.Println(r.answerStyle.Render("Current session: " + r.sessionID))
		}
		return nil
	case "/system":
		fmt.Println(r.answerStyle.Render(r.executor.SystemPrompt()))
		return nil
	default:
		return fmt.Errorf("unknown command %s (available: /exit, /session, /system)", args[0])
	}
}
