package video

import (
	"github.com/foxseedlab/lecturerelay/internal/config"
	"github.com/foxseedlab/lecturerelay/internal/video"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*video.Service, error) {
		c := do.MustInvoke[*config.Config](i)
		return video.NewService(
			NewHTTPSource(c.VideoAPIBaseURL, c.HTTPTimeout),
			NewHTTPConverter(c.ConverterAPIBaseURL, c.HTTPTimeout),
		), nil
	})
}
