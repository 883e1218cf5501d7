package worker

import (
	"github.com/foxseedlab/lecturerelay/internal/config"
	"github.com/foxseedlab/lecturerelay/internal/notify"
	"github.com/foxseedlab/lecturerelay/internal/repository"
	"github.com/foxseedlab/lecturerelay/internal/schedule"
	"github.com/foxseedlab/lecturerelay/internal/telegram"
	"github.com/foxseedlab/lecturerelay/internal/video"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Worker, error) {
		return New(
			do.MustInvoke[*config.Config](i),
			do.MustInvoke[telegram.ClientFactory](i),
			do.MustInvoke[schedule.Client](i),
			do.MustInvoke[*video.Service](i),
			do.MustInvoke[repository.Repository](i),
			do.MustInvoke[notify.Notifier](i),
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*Supervisor, error) {
		return NewSupervisor(do.MustInvoke[*Worker](i), do.MustInvoke[repository.Repository](i)), nil
	})
}
