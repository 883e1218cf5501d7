package telegram

import (
	"github.com/foxseedlab/lecturerelay/internal/config"
	telegrampkg "github.com/foxseedlab/lecturerelay/internal/telegram"
	"github.com/samber/do/v2"
	"go.uber.org/zap"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (telegrampkg.ClientFactory, error) {
		c := do.MustInvoke[*config.Config](i)
		logger := zap.NewNop()
		if c.TelegramDebug {
			dev, err := zap.NewDevelopment()
			if err != nil {
				return nil, err
			}
			logger = dev
		}
		return func(sessionString string) (telegrampkg.Client, error) {
			return NewClient(c.TelegramAPIID, c.TelegramAPIHash, sessionString, logger)
		}, nil
	})
}
