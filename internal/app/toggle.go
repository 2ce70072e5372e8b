package app

import (
	"context"
	"os"

	"okxwatch/internal/alerting"
)

// watchAlertToggle flips alert emission on every received signal until ctx
// ends or sig is closed.
func (a *App) watchAlertToggle(ctx context.Context, gate *alerting.Gate, sig <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-sig:
			if !ok {
				return
			}
			enabled := gate.Toggle()
			a.Logger.Info().Str("signal", s.String()).Bool("alerts_enabled", enabled).Msg("alert emission toggled")
		}
	}
}
