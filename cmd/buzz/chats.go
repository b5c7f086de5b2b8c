package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/HexSleeves/buzz/internal/errors"
	"github.com/HexSleeves/buzz/internal/output"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// terminalWidth is the stdout width, or 80 when stdout is not a terminal.
func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 80
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func chatArg(cmd *cli.Command) (int64, error) {
	if cmd.Args().Len() != 1 {
		return 0, fmt.Errorf("usage: buzz chats %s <chat-id>", cmd.Name)
	}
	id, err := strconv.ParseInt(cmd.Args().First(), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.Newf(errors.KindValidation, "invalid chat id %q", cmd.Args().First())
	}
	return id, nil
}

func cmdChatsList(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	chats, err := a.chat.ListChats(ctx, a.userFlag(cmd), 0, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	if a.out.IsJSON() {
		return a.out.Emit(output.EventChats, chats)
	}

	p := a.out.Printer()
	if len(chats) == 0 {
		p.Info("No chats found. Run 'buzz ask <message>' to start one.")
		return nil
	}

	p.Header("Chats")
	titleWidth := terminalWidth() - 40
	if titleWidth < 20 {
		titleWidth = 20
	}
	var rows [][]string
	for _, c := range chats {
		rows = append(rows, []string{
			strconv.FormatInt(c.ID, 10),
			output.Truncate(c.Title, titleWidth),
			c.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	p.Table([]string{"ID", "Title", "Last Active"}, rows)
	return nil
}

func cmdChatsShow(ctx context.Context, cmd *cli.Command) error {
	id, err := chatArg(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	view, err := a.chat.GetChat(ctx, a.userFlag(cmd), id)
	if err != nil {
		return err
	}
	if a.out.IsJSON() {
		return a.out.Emit(output.EventChat, view)
	}

	p := a.out.Printer()
	p.Section(view.Title)
	p.KeyValue([][]string{
		{"Chat", strconv.FormatInt(view.ID, 10)},
		{"Created", view.CreatedAt.Local().Format(time.RFC1123)},
		{"Messages", strconv.Itoa(len(view.Messages))},
	})
	p.Divider()
	width := terminalWidth()
	for _, m := range view.Messages {
		p.Message(m.Role, m.Content, width)
	}
	return nil
}

// exportedChat is the YAML shape of an exported chat.
type exportedChat struct {
	ID        int64             `yaml:"id"`
	Title     string            `yaml:"title"`
	CreatedAt time.Time         `yaml:"created_at"`
	UpdatedAt time.Time         `yaml:"updated_at"`
	Messages  []exportedMessage `yaml:"messages"`
}

type exportedMessage struct {
	Role      string    `yaml:"role"`
	CreatedAt time.Time `yaml:"created_at"`
	Content   string    `yaml:"content"`
}

func cmdChatsExport(ctx context.Context, cmd *cli.Command) error {
	id, err := chatArg(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	view, err := a.chat.GetChat(ctx, a.userFlag(cmd), id)
	if err != nil {
		return err
	}
	doc := exportedChat{
		ID:        view.ID,
		Title:     view.Title,
		CreatedAt: view.CreatedAt,
		UpdatedAt: view.UpdatedAt,
		Messages:  make([]exportedMessage, 0, len(view.Messages)),
	}
	for _, m := range view.Messages {
		doc.Messages = append(doc.Messages, exportedMessage{Role: m.Role, CreatedAt: m.CreatedAt, Content: m.Content})
	}

	var w io.Writer = cmd.Root().Writer
	if path := cmd.String("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode chat %d: %w", id, err)
	}
	return enc.Close()
}

func cmdChatsDelete(ctx context.Context, cmd *cli.Command) error {
	id, err := chatArg(cmd)
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.chat.DeleteChat(ctx, a.userFlag(cmd), id); err != nil {
		return err
	}
	a.out.Printer().Success("Chat %d deleted", id)
	return a.out.Emit(output.EventDeleted, map[string]int64{"chat_id": id})
}
