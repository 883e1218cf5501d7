package admin

import (
	"time"

	"github.com/foxseedlab/lecturerelay/internal/config"
	"github.com/foxseedlab/lecturerelay/internal/repository"
	"github.com/foxseedlab/lecturerelay/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		c := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		supervisor := do.MustInvoke[*worker.Supervisor](i)
		if !c.IsDevelopment() {
			gin.SetMode(gin.ReleaseMode)
		}
		return NewServer(repo, supervisor, Options{
			ListenAddr:   c.AdminListenAddr,
			JWTSecret:    c.AdminJWTSecret,
			SessionTTL:   time.Duration(c.AdminSessionHours) * time.Hour,
			SecureCookie: !c.IsDevelopment(),
		}), nil
	})
}
