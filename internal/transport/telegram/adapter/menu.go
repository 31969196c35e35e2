package adapter

import (
	"context"

	tele "gopkg.in/telebot.v4"

	kit "digestbot/internal/transport"
)

// UpdateMenuCommands pushes the command list to Telegram's bot menu.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, tele.Command{Text: c.Command, Description: c.Description})
	}
	if err := a.bot.SetCommands(out); err != nil {
		return classify(err)
	}
	return nil
}
