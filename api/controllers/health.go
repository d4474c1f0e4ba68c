package controllers

import (
	"net/http"

	"github.com/iandrade/storefront-backend/api/responses"
	"github.com/iandrade/storefront-backend/pkg/db"
	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
	"github.com/iandrade/storefront-backend/pkg/logger"
	"github.com/iandrade/storefront-backend/pkg/redis"
)

// Health reports liveness of the datastore dependencies.
func Health(dbPinger db.Pinger, redisPinger redis.Pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if dbPinger != nil {
			if err := dbPinger.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "database unreachable"))
				return
			}
		}
		if redisPinger != nil {
			if err := redisPinger.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "redis unreachable"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}
