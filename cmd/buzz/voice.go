package main

import (
	"context"
	"fmt"

	"github.com/HexSleeves/buzz/internal/output"
	"github.com/urfave/cli/v3"
)

// cmdVoice shows the user's voice settings, saving any flags given first.
func cmdVoice(ctx context.Context, cmd *cli.Command) error {
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	user := a.userFlag(cmd)
	v := a.chat.Voice(ctx, user)
	if cmd.IsSet("voice") || cmd.IsSet("speed") || cmd.IsSet("pitch") {
		if cmd.IsSet("voice") {
			v.Voice = cmd.String("voice")
		}
		if cmd.IsSet("speed") {
			v.Speed = cmd.Float("speed")
		}
		if cmd.IsSet("pitch") {
			v.Pitch = cmd.Float("pitch")
		}
		if err := a.chat.SetVoice(ctx, user, v); err != nil {
			return err
		}
		a.out.Printer().Success("Voice settings saved for %s", user)
	}

	if a.out.IsJSON() {
		return a.out.Emit(output.EventVoice, v)
	}
	a.out.Printer().KeyValue([][]string{
		{"Voice", v.Voice},
		{"Speed", fmt.Sprintf("%.2fx", v.Speed)},
		{"Pitch", fmt.Sprintf("%+.1f st", v.Pitch)},
	})
	return nil
}
