package schedule

import (
	"github.com/foxseedlab/lecturerelay/internal/config"
	"github.com/foxseedlab/lecturerelay/internal/schedule"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (schedule.Client, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewHTTPClient(c.ScheduleAPIBaseURL, c.HTTPTimeout), nil
	})
}
