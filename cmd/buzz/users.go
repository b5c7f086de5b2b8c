package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/HexSleeves/buzz/internal/auth"
	"github.com/HexSleeves/buzz/internal/output"
	"github.com/HexSleeves/buzz/internal/state"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// readPassword prompts twice on the terminal without echo.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal; pass --password")
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	fmt.Fprint(os.Stderr, "Confirm:  ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(first), nil
}

func cmdUsersAdd(ctx context.Context, cmd *cli.Command) error {
	email := strings.TrimSpace(cmd.Args().First())
	if email == "" {
		return fmt.Errorf("usage: buzz users add --first-name NAME <email>")
	}

	password := cmd.String("password")
	if password == "" {
		var err error
		if password, err = readPassword(); err != nil {
			return err
		}
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	u, err := a.db.CreateUser(ctx, state.User{
		Email:        email,
		FirstName:    cmd.String("first-name"),
		LastName:     cmd.String("last-name"),
		PasswordHash: hash,
		IsActive:     true,
	})
	if err != nil {
		return err
	}

	a.out.Printer().Success("Created user %s (%s)", u.Email, u.ID)
	a.out.Printer().Info("Token: %s", a.auth.Issue(u.ID))
	return a.out.Emit(output.EventUser, u)
}

func cmdUsersList(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	users, err := a.db.ListUsers(ctx, 0, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	if a.out.IsJSON() {
		return a.out.Emit(output.EventUsers, users)
	}

	p := a.out.Printer()
	if len(users) == 0 {
		p.Info("No users found.")
		return nil
	}
	p.Header("Users")
	var rows [][]string
	for _, u := range users {
		active := "yes"
		if !u.IsActive {
			active = "no"
		}
		rows = append(rows, []string{
			output.Truncate(u.ID, 36),
			output.Truncate(u.Email, 40),
			output.Truncate(u.DisplayName, 30),
			active,
			u.CreatedAt.Local().Format("2006-01-02"),
		})
	}
	p.Table([]string{"ID", "Email", "Name", "Active", "Created"}, rows)
	return nil
}
