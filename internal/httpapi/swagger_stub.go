//go:build !swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
)

// MountSwagger leaves /swagger/ unrouted in default builds, so the docs
// package and http-swagger are not linked in. Build with -tags=swagger to
// serve the UI generated into cmd/notifyd/docs.
func MountSwagger(r chi.Router) {}
